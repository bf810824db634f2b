// Package link implements the upload link between a host and a running
// brain: a small gRPC surface for pinging, uploading full program images,
// and shipping incremental patches into the brain's patch region.
//
// Messages are plain structs moved by a gob codec; the surface is internal
// to this project and needs no proto toolchain or cross-language contract.
package link

import (
	"github.com/torquelabs/brainstem/internal/types"
)

// Method names on the wire.
const (
	serviceName  = "brainstem.Link"
	methodPing   = "/" + serviceName + "/Ping"
	methodUpload = "/" + serviceName + "/Upload"
	methodStage  = "/" + serviceName + "/StagePatch"
)

// maxMessageSize bounds one link message in either direction: the largest
// program image plus headroom for the codec framing and the other request
// fields. Client and server must agree, or a maximum-size upload passes one
// end and is rejected by the other.
const maxMessageSize = int(types.ImageMaxSize) + 1<<20

// PingRequest asks the brain for its identity.
type PingRequest struct{}

// PingResponse carries the brain's version string.
type PingResponse struct {
	Version string
}

// UploadRequest ships a full program image into a slot.
type UploadRequest struct {
	Slot  uint8
	Name  string
	Image []byte
}

// UploadResponse acknowledges an upload.
type UploadResponse struct {
	Fingerprint [types.FingerprintSize]byte
	Size        uint32
}

// StageRequest ships a patch descriptor and payload. The brain writes both
// into its patch region; the staging protocol consumes them at next boot.
type StageRequest struct {
	Magic      uint32
	Version    uint32
	PayloadLen uint32
	BaseLen    uint32
	Payload    []byte
}

// StageResponse acknowledges a staged patch.
type StageResponse struct {
	Pending bool
}
