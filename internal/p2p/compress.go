package p2p

import (
	"github.com/klauspost/compress/zstd"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<20))
)

// CompressPayload compresses a serialized witness or proof blob with zstd.
// Witness payloads carry compiled Merkle proofs and can run large; gossiping
// them uncompressed wastes bandwidth on a busy dispute topic.
func CompressPayload(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// DecompressPayload decompresses a payload produced by CompressPayload.
// If the data does not start with the zstd magic bytes, it is returned as-is
// for forward compatibility with uncompressed messages.
func DecompressPayload(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0x28 || data[1] != 0xB5 || data[2] != 0x2F || data[3] != 0xFD {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}
