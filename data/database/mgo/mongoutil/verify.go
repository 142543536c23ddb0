package mongoutil

import (
	"context"

	"PPHub/tools/errs"
)

// Check 连一次、ping 一次后断开
func Check(ctx context.Context, config *Config) error {
	c, err := NewMongoDB(ctx, config)
	if err != nil {
		return err
	}
	return c.Disconnect(ctx)
}

// ValidateAndSetDefaults 校验并补默认值；没有 Uri 时按 Address 拼接
func (c *Config) ValidateAndSetDefaults() error {
	if c.Uri == "" && len(c.Address) == 0 {
		return errs.Wrap(errs.New("either Uri or Address must be provided"))
	}
	if c.Database == "" {
		return errs.Wrap(errs.New("database is required"))
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Uri == "" {
		if c.AuthSource == "" {
			c.Uri = buildMongoURI(c, c.Database)
		} else {
			c.Uri = buildMongoURI(c, c.AuthSource)
		}
	}
	return nil
}
