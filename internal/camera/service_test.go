package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilbercode/amba-rpc/internal/ambarpc"
)

type request struct {
	msgID  int
	fields ambarpc.Fields
}

type fakeCaller struct {
	responses map[int]ambarpc.Message
	err       error
	calls     []request
	sends     []request

	waited  ambarpc.Match
	timeout time.Duration
	event   ambarpc.Message
}

func (f *fakeCaller) Call(_ context.Context, msgID int, fields ambarpc.Fields, _ ...ambarpc.CallOption) (ambarpc.Message, error) {
	f.calls = append(f.calls, request{msgID: msgID, fields: fields})
	if f.err != nil {
		return nil, f.err
	}
	return f.responses[msgID], nil
}

func (f *fakeCaller) Send(msgID int, fields ambarpc.Fields) error {
	f.sends = append(f.sends, request{msgID: msgID, fields: fields})
	return f.err
}

func (f *fakeCaller) WaitFor(_ context.Context, match ambarpc.Match, timeout time.Duration) (ambarpc.Message, error) {
	f.waited, f.timeout = match, timeout
	if f.event == nil {
		return nil, ambarpc.ErrTimeout
	}
	return f.event, nil
}

func TestConfigGetAll(t *testing.T) {
	rpc := &fakeCaller{responses: map[int]ambarpc.Message{
		ambarpc.MsgConfigGetAll: {"rval": int64(0), "msg_id": int64(3), "param": []interface{}{
			map[string]interface{}{"camera_clock": "2016-01-01 00:00:00"},
			map[string]interface{}{"video_resolution": "1920x1080 60P 16:9"},
			"garbage",
			map[string]interface{}{"video_standard": "NTSC"},
		}},
	}}
	config, err := NewService(rpc, 0).ConfigGetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"camera_clock":     "2016-01-01 00:00:00",
		"video_resolution": "1920x1080 60P 16:9",
		"video_standard":   "NTSC",
	}, config)
	assert.Equal(t, []request{{msgID: ambarpc.MsgConfigGetAll}}, rpc.calls)
}

func TestConfigGetAndSet(t *testing.T) {
	rpc := &fakeCaller{responses: map[int]ambarpc.Message{
		ambarpc.MsgConfigGet: {"rval": int64(0), "type": "video_resolution", "param": "1920x1080 60P 16:9"},
		ambarpc.MsgConfigSet: {"rval": int64(0), "type": "video_resolution"},
	}}
	svc := NewService(rpc, 0)

	value, err := svc.ConfigGet(context.Background(), "video_resolution")
	require.NoError(t, err)
	assert.Equal(t, "1920x1080 60P 16:9", value)

	_, err = svc.ConfigSet(context.Background(), "video_resolution", "1280x720 60P 16:9")
	require.NoError(t, err)
	assert.Equal(t, []request{
		{msgID: ambarpc.MsgConfigGet, fields: ambarpc.Fields{"type": "video_resolution"}},
		{msgID: ambarpc.MsgConfigSet, fields: ambarpc.Fields{"type": "video_resolution", "param": "1280x720 60P 16:9"}},
	}, rpc.calls)
}

func TestConfigDescribe(t *testing.T) {
	for _, tc := range []struct {
		desc string
		want *Setting
	}{
		{"settable:NTSC#PAL", &Setting{Name: "video_standard", Access: AccessSettable, Options: []string{"NTSC", "PAL"}}},
		{"readonly", &Setting{Name: "video_standard", Access: AccessReadOnly, Options: []string{}}},
		{"settable:", &Setting{Name: "video_standard", Access: AccessSettable, Options: []string{}}},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			rpc := &fakeCaller{responses: map[int]ambarpc.Message{
				ambarpc.MsgConfigGetAll: {"rval": int64(0), "param": []interface{}{
					map[string]interface{}{"video_standard": tc.desc},
				}},
			}}
			setting, err := NewService(rpc, 0).ConfigDescribe(context.Background(), "video_standard")
			require.NoError(t, err)
			assert.Equal(t, tc.want, setting)
			assert.Equal(t, ambarpc.Fields{"param": "video_standard"}, rpc.calls[0].fields)
		})
	}
}

func TestConfigDescribeMissing(t *testing.T) {
	rpc := &fakeCaller{responses: map[int]ambarpc.Message{
		ambarpc.MsgConfigGetAll: {"rval": int64(0), "param": []interface{}{}},
	}}
	_, err := NewService(rpc, 0).ConfigDescribe(context.Background(), "video_standard")
	assert.Error(t, err)
}

func TestCapture(t *testing.T) {
	rpc := &fakeCaller{event: ambarpc.Message{
		"msg_id": int64(ambarpc.MsgStatus),
		"type":   ambarpc.EventPhotoTaken,
		"param":  "/tmp/fuse_d/DCIM/100MEDIA/YDXJ0001.jpg",
	}}
	path, err := NewService(rpc, 0).Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/fuse_d/DCIM/100MEDIA/YDXJ0001.jpg", path)

	assert.Equal(t, []request{{msgID: ambarpc.MsgCapture}}, rpc.sends)
	assert.Equal(t, ambarpc.MatchID(ambarpc.MsgStatus, ambarpc.Fields{"type": ambarpc.EventPhotoTaken}), rpc.waited)
	assert.Equal(t, DefaultCaptureTimeout, rpc.timeout)
}

func TestCaptureTimeout(t *testing.T) {
	rpc := &fakeCaller{}
	_, err := NewService(rpc, time.Second).Capture(context.Background())
	assert.ErrorIs(t, err, ambarpc.ErrTimeout)
	assert.Equal(t, time.Second, rpc.timeout)
}

func TestStorageUsage(t *testing.T) {
	rpc := &fakeCaller{responses: map[int]ambarpc.Message{
		ambarpc.MsgStorageUsage: {"rval": int64(0), "param": int64(1024)},
	}}
	svc := NewService(rpc, 0)

	_, err := svc.StorageUsage(context.Background(), "")
	require.NoError(t, err)
	_, err = svc.StorageUsage(context.Background(), StorageTotal)
	require.NoError(t, err)

	assert.Equal(t, []request{
		{msgID: ambarpc.MsgStorageUsage, fields: ambarpc.Fields{"type": "free"}},
		{msgID: ambarpc.MsgStorageUsage, fields: ambarpc.Fields{"type": "total"}},
	}, rpc.calls)
}

func TestFileCommands(t *testing.T) {
	rpc := &fakeCaller{responses: map[int]ambarpc.Message{}}
	svc := NewService(rpc, 0)
	ctx := context.Background()

	_, _ = svc.Ls(ctx, "/tmp/fuse_d/DCIM -D -S")
	_, _ = svc.Cd(ctx, "/tmp/fuse_d")
	_, _ = svc.Rm(ctx, "/tmp/fuse_d/DCIM/100MEDIA/*.jpg")
	_, _ = svc.MediaInfo(ctx, "/tmp/fuse_d/DCIM/100MEDIA/YDXJ0002.mp4")
	_, _ = svc.PreviewStart(ctx)

	assert.Equal(t, []request{
		{msgID: ambarpc.MsgLs, fields: ambarpc.Fields{"param": "/tmp/fuse_d/DCIM -D -S"}},
		{msgID: ambarpc.MsgCd, fields: ambarpc.Fields{"param": "/tmp/fuse_d"}},
		{msgID: ambarpc.MsgRm, fields: ambarpc.Fields{"param": "/tmp/fuse_d/DCIM/100MEDIA/*.jpg"}},
		{msgID: ambarpc.MsgMediaInfo, fields: ambarpc.Fields{"param": "/tmp/fuse_d/DCIM/100MEDIA/YDXJ0002.mp4"}},
		{msgID: ambarpc.MsgPreviewStart, fields: ambarpc.Fields{"param": "none_force"}},
	}, rpc.calls)
}

func TestCommandErrorsWrapped(t *testing.T) {
	rpcErr := &ambarpc.RPCError{MsgID: ambarpc.MsgFormat, Code: -14}
	rpc := &fakeCaller{err: rpcErr}

	_, err := NewService(rpc, 0).Format(context.Background())
	var got *ambarpc.RPCError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, -14, got.Code)
	assert.Contains(t, err.Error(), "format failed")
}
