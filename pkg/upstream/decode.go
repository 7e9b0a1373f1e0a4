package upstream

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// acceptEncoding lists every content coding decodeBody understands.
const acceptEncoding = "gzip, deflate, br, zstd"

// decodeBody undoes the Content-Encoding header, last applied coding first.
// Codings it does not know, such as the charset names some feed servers put
// there, are skipped with a warning and the bytes pass through unchanged.
// Only corrupt data in a known coding is an error.
func decodeBody(data []byte, contentEncoding string, logger zerolog.Logger) ([]byte, error) {
	codings := strings.Split(contentEncoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		if len(data) == 0 {
			return data, nil
		}
		if !knownCoding(coding) {
			logger.Warn().Str("content_encoding", coding).Msg("Passing through body with unknown content encoding")
			continue
		}

		var err error
		data, err = decode(data, coding)
		if err != nil {
			return nil, fmt.Errorf("decode %s body: %w", coding, err)
		}
	}
	return data, nil
}

func knownCoding(coding string) bool {
	switch coding {
	case "", "identity", "gzip", "x-gzip", "deflate", "br", "zstd":
		return true
	}
	return false
}

func decode(data []byte, coding string) ([]byte, error) {
	switch coding {
	case "gzip", "x-gzip":
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		return io.ReadAll(gr)
	case "deflate":
		// RFC 9110 deflate is zlib framed, but some servers send raw flate.
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			fr := flate.NewReader(bytes.NewReader(data))
			defer fr.Close()
			return io.ReadAll(fr)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	case "zstd":
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer decoder.Close()
		return decoder.DecodeAll(data, nil)
	default:
		return data, nil
	}
}
