package camera

import (
	"context"

	"github.com/bilbercode/amba-rpc/internal/ambarpc"
)

// Service is the camera command catalog.
type Service interface {
	ConfigGet(ctx context.Context, name string) (interface{}, error)
	ConfigGetAll(ctx context.Context) (map[string]interface{}, error)
	ConfigSet(ctx context.Context, name string, value interface{}) (ambarpc.Message, error)
	ConfigDescribe(ctx context.Context, name string) (*Setting, error)

	Capture(ctx context.Context) (string, error)
	PreviewStart(ctx context.Context) (ambarpc.Message, error)
	PreviewStop(ctx context.Context) (ambarpc.Message, error)
	RecordStart(ctx context.Context) (ambarpc.Message, error)
	RecordStop(ctx context.Context) (ambarpc.Message, error)
	RecordTime(ctx context.Context) (interface{}, error)

	Battery(ctx context.Context) (ambarpc.Message, error)
	StorageUsage(ctx context.Context, kind StorageKind) (ambarpc.Message, error)
	Format(ctx context.Context) (ambarpc.Message, error)

	Ls(ctx context.Context, path string) (ambarpc.Message, error)
	Cd(ctx context.Context, path string) (ambarpc.Message, error)
	Rm(ctx context.Context, path string) (ambarpc.Message, error)
	MediaInfo(ctx context.Context, path string) (ambarpc.Message, error)
}

type Access string

const (
	AccessSettable Access = "settable"
	AccessReadOnly Access = "readonly"
)

// Setting describes a single config value.
type Setting struct {
	Name    string
	Access  Access
	Options []string
}

type StorageKind string

const (
	StorageFree  StorageKind = "free"
	StorageTotal StorageKind = "total"
)
