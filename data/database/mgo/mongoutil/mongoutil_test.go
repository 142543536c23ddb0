package mongoutil

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"
)

func TestValidateBuildsURIFromAddress(t *testing.T) {
	c := &Config{Address: []string{"h1:27017", "h2:27017"}, Database: "pphub", Username: "u", Password: "p"}
	if err := c.ValidateAndSetDefaults(); err != nil {
		t.Fatal(err)
	}
	want := "mongodb://u:p@h1:27017,h2:27017/pphub?authSource=pphub&maxPoolSize=100"
	if c.Uri != want {
		t.Fatalf("uri = %q, want %q", c.Uri, want)
	}
	if c.MaxRetry != defaultMaxRetry {
		t.Fatalf("MaxRetry = %d", c.MaxRetry)
	}
}

func TestValidateNoCredentials(t *testing.T) {
	c := &Config{Address: []string{"h1"}, Database: "d", AuthSource: "admin", MaxPoolSize: 5}
	if err := c.ValidateAndSetDefaults(); err != nil {
		t.Fatal(err)
	}
	if c.Uri != "mongodb://h1/d?authSource=admin&maxPoolSize=5" {
		t.Fatalf("uri = %q", c.Uri)
	}
}

func TestValidateRejects(t *testing.T) {
	if err := (&Config{Database: "d"}).ValidateAndSetDefaults(); err == nil {
		t.Fatal("want error without uri/address")
	}
	if err := (&Config{Uri: "mongodb://x"}).ValidateAndSetDefaults(); err == nil {
		t.Fatal("want error without database")
	}
}

func TestShouldRetry(t *testing.T) {
	ctx := context.Background()
	if shouldRetry(ctx, mongo.CommandError{Code: 18}) {
		t.Fatal("auth failure must not retry")
	}
	if !shouldRetry(ctx, errors.New("dial tcp")) {
		t.Fatal("network error should retry")
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if shouldRetry(cctx, errors.New("dial tcp")) {
		t.Fatal("cancelled ctx must not retry")
	}
}

func TestBuildURIEscapesCredentials(t *testing.T) {
	c := &Config{Address: []string{"h1"}, Database: "d", Username: "a@b", Password: "p:w/1", MaxPoolSize: 1}
	got := buildMongoURI(c, "admin")
	want := "mongodb://a%40b:p%3Aw%2F1@h1/d?authSource=admin&maxPoolSize=1"
	if got != want {
		t.Fatalf("uri = %q, want %q", got, want)
	}
}
