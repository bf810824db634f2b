package link

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/torquelabs/brainstem/internal/types"
	"github.com/torquelabs/brainstem/pkg/patch"
)

// fakeBrain records what the link delivered.
type fakeBrain struct {
	uploads map[types.Slot][]byte
	staged  *patch.Descriptor
	payload []byte
}

func newFakeBrain() *fakeBrain {
	return &fakeBrain{uploads: make(map[types.Slot][]byte)}
}

func (b *fakeBrain) Version() string { return "brainstem-test" }

func (b *fakeBrain) Upload(_ context.Context, slot types.Slot, _ string, image []byte) (types.Fingerprint, error) {
	b.uploads[slot] = append([]byte(nil), image...)
	return types.FingerprintOf(image), nil
}

func (b *fakeBrain) StagePatch(_ context.Context, desc patch.Descriptor, payload []byte) error {
	b.staged = &desc
	b.payload = append([]byte(nil), payload...)
	return nil
}

// TestCodecRoundTrip tests the gob codec over every wire message.
func TestCodecRoundTrip(t *testing.T) {
	c := gobCodec{}

	in := &UploadRequest{Slot: 3, Name: "drive", Image: []byte{1, 2, 3}}
	raw, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	out := new(UploadRequest)
	if err := c.Unmarshal(raw, out); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if out.Slot != 3 || out.Name != "drive" || len(out.Image) != 3 {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}

	if c.Name() != "brainstem-gob" {
		t.Errorf("Name() = %q", c.Name())
	}
}

// TestServerMethods tests the brain-side handlers directly.
func TestServerMethods(t *testing.T) {
	brain := newFakeBrain()
	s := NewServer(brain, ServerConfig{})

	ctx := context.Background()

	ping, err := s.ping(ctx, &PingRequest{})
	if err != nil {
		t.Fatalf("ping() failed: %v", err)
	}
	if ping.Version != "brainstem-test" {
		t.Errorf("Version = %q", ping.Version)
	}

	img := []byte("program image bytes")
	up, err := s.upload(ctx, &UploadRequest{Slot: 2, Name: "auton", Image: img})
	if err != nil {
		t.Fatalf("upload() failed: %v", err)
	}
	if up.Fingerprint != types.FingerprintOf(img) {
		t.Error("upload fingerprint mismatch")
	}
	if string(brain.uploads[2]) != string(img) {
		t.Error("image did not reach the brain")
	}

	// Bad slots are rejected at the link boundary.
	if _, err := s.upload(ctx, &UploadRequest{Slot: 0}); status.Code(err) != codes.InvalidArgument {
		t.Errorf("upload(slot 0) = %v, want InvalidArgument", err)
	}

	payload := []byte{9, 9, 9}
	_, err = s.stagePatch(ctx, &StageRequest{
		Magic:      types.PatchMagic,
		Version:    types.PatchVersion,
		PayloadLen: 3,
		BaseLen:    128,
		Payload:    payload,
	})
	if err != nil {
		t.Fatalf("stagePatch() failed: %v", err)
	}
	if brain.staged == nil || brain.staged.BaseLen != 128 {
		t.Errorf("staged descriptor = %+v", brain.staged)
	}

	// A descriptor without the magic is rejected before it reaches the brain.
	_, err = s.stagePatch(ctx, &StageRequest{Magic: 0xDEAD0000})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("stagePatch(no magic) = %v, want InvalidArgument", err)
	}

	// Payload length must match the descriptor.
	_, err = s.stagePatch(ctx, &StageRequest{
		Magic:      types.PatchMagic,
		Version:    types.PatchVersion,
		PayloadLen: 10,
		Payload:    payload,
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("stagePatch(length mismatch) = %v, want InvalidArgument", err)
	}
}

// TestEndToEnd runs client and server over a local listener.
func TestEndToEnd(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}

	brain := newFakeBrain()
	srv := NewServer(brain, ServerConfig{Token: "field-secret"})
	go srv.Serve(lis)
	defer srv.Stop()

	cfg := DefaultClientConfig(lis.Addr().String())
	cfg.Token = "field-secret"
	client, err := Dial(cfg)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	version, err := client.Ping(ctx)
	if err != nil {
		t.Fatalf("Ping() failed: %v", err)
	}
	if version != "brainstem-test" {
		t.Errorf("Ping() = %q", version)
	}

	img := []byte("full image upload")
	fp, err := client.Upload(ctx, 1, "drive", img)
	if err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}
	if fp != types.FingerprintOf(img) {
		t.Error("Upload() fingerprint mismatch")
	}

	desc := patch.Descriptor{
		Magic:      types.PatchMagic,
		Version:    types.PatchVersion,
		PayloadLen: 4,
		BaseLen:    uint32(len(img)),
	}
	if err := client.StagePatch(ctx, desc, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("StagePatch() failed: %v", err)
	}
	if brain.staged == nil || brain.staged.PayloadLen != 4 {
		t.Errorf("staged = %+v", brain.staged)
	}
}

// TestUploadMaxSize tests that a largest-allowed image clears the transport
// limits on both ends; the gob frame runs slightly past the raw image size.
func TestUploadMaxSize(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}

	brain := newFakeBrain()
	srv := NewServer(brain, ServerConfig{})
	go srv.Serve(lis)
	defer srv.Stop()

	client, err := Dial(DefaultClientConfig(lis.Addr().String()))
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	img := make([]byte, types.ImageMaxSize)
	for i := range img {
		img[i] = byte(i)
	}
	fp, err := client.Upload(ctx, 8, "max", img)
	if err != nil {
		t.Fatalf("Upload(max size) failed: %v", err)
	}
	if fp != types.FingerprintOf(img) {
		t.Error("Upload() fingerprint mismatch")
	}
	if uint32(len(brain.uploads[8])) != types.ImageMaxSize {
		t.Errorf("brain received %d bytes, want %d", len(brain.uploads[8]), types.ImageMaxSize)
	}

	// One byte past the maximum still fits the transport and is rejected
	// by upload validation, not by the message cap.
	_, err = client.Upload(ctx, 8, "over", make([]byte, types.ImageMaxSize+1))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Upload(oversize) = %v, want InvalidArgument", err)
	}
}

// TestAuthRejected tests that a wrong token is turned away.
func TestAuthRejected(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}

	srv := NewServer(newFakeBrain(), ServerConfig{Token: "right"})
	go srv.Serve(lis)
	defer srv.Stop()

	cfg := DefaultClientConfig(lis.Addr().String())
	cfg.Token = "wrong"
	client, err := Dial(cfg)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx); status.Code(err) != codes.Unauthenticated {
		t.Errorf("Ping() with bad token = %v, want Unauthenticated", err)
	}

	// No token at all is also turned away.
	bare, err := Dial(DefaultClientConfig(lis.Addr().String()))
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer bare.Close()
	if _, err := bare.Ping(ctx); status.Code(err) != codes.Unauthenticated {
		t.Errorf("Ping() without token = %v, want Unauthenticated", err)
	}
}

// TestClosedClient tests use after Close.
func TestClosedClient(t *testing.T) {
	client, err := Dial(DefaultClientConfig("127.0.0.1:1"))
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, err := client.Ping(context.Background()); err != ErrNotConnected {
		t.Errorf("Ping() after Close = %v, want ErrNotConnected", err)
	}
	if err := client.Close(); err != ErrNotConnected {
		t.Errorf("second Close() = %v, want ErrNotConnected", err)
	}
}
