package blob

import (
	"context"
	"testing"

	"startpop/internal/blob/core"
	"startpop/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, config.Input{Driver: "fs", Root: t.TempDir()})
	if err != nil || st.Driver() != core.DriverFilesystem {
		t.Fatalf("fs: %v %v", st, err)
	}
	st, err = Open(ctx, config.Input{Driver: "memory"})
	if err != nil || st.Driver() != core.DriverMemory {
		t.Fatalf("memory: %v %v", st, err)
	}
	st, err = Open(ctx, config.Input{Driver: "s3", S3Bucket: "extracts", S3Endpoint: "http://127.0.0.1:9000", S3PathStyle: true})
	if err != nil || st.Driver() != core.DriverS3 {
		t.Fatalf("s3: %v %v", st, err)
	}
	if _, err := Open(ctx, config.Input{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, config.Input{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
