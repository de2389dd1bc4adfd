package adbsync

import (
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"adbsession/adb"
	"adbsession/adb/adbproto"
	"adbsession/adb/adbproto/syncproto"
)

// CompressionMethod is a compression algorithm for sendrecv_v2 transfers.
type CompressionMethod string

const (
	compressionMethodNone   CompressionMethod = "" // not exported intentionally
	CompressionMethodBrotli CompressionMethod = "brotli"
	CompressionMethodLZ4    CompressionMethod = "lz4"
	CompressionMethodZstd   CompressionMethod = "zstd"
)

func (m CompressionMethod) syncFlag() uint32 {
	switch m {
	case CompressionMethodBrotli:
		return syncproto.SendFlagBrotli
	case CompressionMethodLZ4:
		return syncproto.SendFlagLZ4
	case CompressionMethodZstd:
		return syncproto.SendFlagZstd
	default:
		return 0
	}
}

func (m CompressionMethod) adbFeature() adbproto.Feature {
	switch m {
	case CompressionMethodBrotli:
		return adbproto.FeatureSendRecv2Brotli
	case CompressionMethodLZ4:
		return adbproto.FeatureSendRecv2LZ4
	case CompressionMethodZstd:
		return adbproto.FeatureSendRecv2Zstd
	default:
		return ""
	}
}

// CompressionConfig controls the compression of pushed content.
type CompressionConfig struct {
	// CompressMethods, if not nil, sets the allowed compression methods in
	// the preferred order. An empty slice disables compression. A nil slice
	// uses the default value. The values will be limited to ones supported by
	// the server.
	CompressMethods []CompressionMethod

	// CompressFunc allows the compression parameters to be customized.
	CompressFunc func(method CompressionMethod, w io.Writer) (io.WriteCloser, error)
}

var DefaultCompressionConfig = &CompressionConfig{}

var defaultMethods = []CompressionMethod{
	CompressionMethodZstd,
	CompressionMethodLZ4,
	CompressionMethodBrotli,
}

func defaultCompress(method CompressionMethod, w io.Writer) (io.WriteCloser, error) {
	switch method {
	case CompressionMethodBrotli:
		return brotli.NewWriter(w), nil
	case CompressionMethodLZ4:
		return lz4.NewWriter(w), nil
	case CompressionMethodZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("%w: unsupported compression method %q", errors.ErrUnsupported, method)
	}
}

func (c *CompressionConfig) compressNegotiate(d adb.Dialer) CompressionMethod {
	if c == nil {
		c = DefaultCompressionConfig
	}
	m := c.CompressMethods
	if m == nil {
		m = defaultMethods
	}
	for _, m := range m {
		if m == compressionMethodNone || adb.SupportsFeature(d, m.adbFeature()) == nil {
			return m
		}
	}
	return compressionMethodNone
}

func (c *CompressionConfig) compress(method CompressionMethod, w io.Writer) (io.WriteCloser, error) {
	if method == compressionMethodNone {
		panic("compress called with method none")
	}
	if c == nil {
		c = DefaultCompressionConfig
	}
	fn := c.CompressFunc
	if fn == nil {
		fn = defaultCompress
	}
	return fn(method, w)
}
