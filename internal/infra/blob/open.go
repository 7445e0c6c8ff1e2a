// Package blob selects the extract source backend from configuration.
package blob

import (
	"context"
	"fmt"

	"startpop/internal/blob/core"
	"startpop/internal/config"
	"startpop/internal/infra/blob/fs"
	"startpop/internal/infra/blob/memory"
	"startpop/internal/infra/blob/s3"
)

// Open returns the store named by in.Driver (fs, s3 or memory).
func Open(ctx context.Context, in config.Input) (core.Store, error) {
	switch core.Driver(in.Driver) {
	case core.DriverFilesystem, "":
		return fs.New(in.Root)
	case core.DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:    in.S3Bucket,
			Region:    in.S3Region,
			Endpoint:  in.S3Endpoint,
			PathStyle: in.S3PathStyle,
		})
	case core.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", in.Driver)
	}
}
