// Package codecs dispatches a decoded tile payload to an RGBA decoder
// selected by the ETS compression code, per spec §4.4 step 4c and §6's
// codec-collaborator contract ("each exposes a function taking (input
// bytes, input len, destination buffer, width, height) -> success/error").
//
// Grounded on garfik-gigaview's internal/image_renderer/renderer.go
// loadImage, which dispatches on a string file extension via a Go switch;
// here the switch becomes a registry keyed by the numeric ETS compression
// code so a host application can register real JPEG2000/vendor decoders
// without this module importing them (spec §1 names the pixel decoders as
// external collaborators, out of this core's scope).
package codecs

import (
	"bytes"
	"fmt"
	"image/jpeg"
)

// TileDecoder decodes one compressed tile payload into a tightly-packed
// RGBA buffer of width*height*4 bytes.
type TileDecoder interface {
	Decode(src []byte, width, height, planeCount int) ([]byte, error)
}

// TileDecoderFunc adapts a function to TileDecoder.
type TileDecoderFunc func(src []byte, width, height, planeCount int) ([]byte, error)

func (f TileDecoderFunc) Decode(src []byte, width, height, planeCount int) ([]byte, error) {
	return f(src, width, height, planeCount)
}

// UnsupportedCodecError reports a compression code with no registered
// decoder (spec §7 KindUnsupportedCodec).
type UnsupportedCodecError struct {
	Code uint32
}

func (e *UnsupportedCodecError) Error() string {
	return fmt.Sprintf("unsupported codec: compression code %d", e.Code)
}

// DecodeFailedError wraps an underlying decoder failure (spec §7
// KindDecodeFailed).
type DecodeFailedError struct {
	Cause error
}

func (e *DecodeFailedError) Error() string { return fmt.Sprintf("decode failed: %v", e.Cause) }
func (e *DecodeFailedError) Unwrap() error { return e.Cause }

// Registry maps an ETS compression code to the decoder that handles it.
type Registry struct {
	decoders map[uint32]TileDecoder
}

// NewRegistry builds a registry pre-populated with a stdlib-backed JPEG
// decoder and FailingDecoder stubs for JP2/PNG/BMP (spec §4.4: "PNG, BMP
// (reserved; must fail with UnsupportedCodec until implemented)"; JP2000
// has no pack-provided Go implementation to adopt, see DESIGN.md, so it
// gets the same stub until a host registers a real one).
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[uint32]TileDecoder)}
	r.Register(CodeJPEG, TileDecoderFunc(decodeJPEG))
	r.Register(CodeJP2, FailingDecoder{Code: CodeJP2})
	r.Register(CodePNG, FailingDecoder{Code: CodePNG})
	r.Register(CodeBMP, FailingDecoder{Code: CodeBMP})
	r.Register(CodeRaw, TileDecoderFunc(decodeRaw))
	return r
}

// Compression codes, mirrored from internal/sisets so callers that only
// import internal/codecs don't need the sisets dependency.
const (
	CodeJPEG uint32 = 2
	CodeJP2  uint32 = 3
	CodePNG  uint32 = 8
	CodeBMP  uint32 = 9

	// CodeRaw has no ETS equivalent (the ETS enum never carries it); it
	// exists so the OME-TIFF path, whose TIFF Compression tag can read 1
	// ("no compression"), can share this registry instead of needing one
	// of its own.
	CodeRaw uint32 = 1
)

// Register installs or replaces the decoder for a compression code.
func (r *Registry) Register(code uint32, d TileDecoder) {
	r.decoders[code] = d
}

// Decode dispatches to the registered decoder, or UnsupportedCodecError if
// none is registered for the code.
func (r *Registry) Decode(code uint32, src []byte, width, height, planeCount int) ([]byte, error) {
	d, ok := r.decoders[code]
	if !ok {
		return nil, &UnsupportedCodecError{Code: code}
	}
	out, err := d.Decode(src, width, height, planeCount)
	if err != nil {
		if _, isUnsupported := err.(*UnsupportedCodecError); isUnsupported {
			return nil, err
		}
		return nil, &DecodeFailedError{Cause: err}
	}
	return out, nil
}

// FailingDecoder always reports its code as unsupported; it is the
// placeholder a host replaces via Registry.Register once a real codec is
// available.
type FailingDecoder struct {
	Code uint32
}

func (f FailingDecoder) Decode(src []byte, width, height, planeCount int) ([]byte, error) {
	return nil, &UnsupportedCodecError{Code: f.Code}
}

// decodeRaw expands an uncompressed tile (one byte per sample, samples
// contiguous per pixel) into packed RGBA. Brightfield tiles are assumed
// 3 samples/pixel (RGB); fluorescence tiles (planeCount > 1) are assumed
// 1 sample/pixel, replicated the same way decodeJPEG replicates a
// fluorescence scalar into RGB (spec §9's ambiguous fluorescence
// composition site).
func decodeRaw(src []byte, width, height, planeCount int) ([]byte, error) {
	samplesPerPixel := 3
	if planeCount > 1 {
		samplesPerPixel = 1
	}
	want := width * height * samplesPerPixel
	if len(src) < want {
		return nil, fmt.Errorf("codecs: raw tile too short: want %d bytes, got %d", want, len(src))
	}

	out := make([]byte, width*height*4)
	for i := 0; i < width*height; i++ {
		si := i * samplesPerPixel
		di := i * 4
		if samplesPerPixel == 1 {
			v := src[si]
			out[di+0], out[di+1], out[di+2] = v, v, v
		} else {
			out[di+0], out[di+1], out[di+2] = src[si], src[si+1], src[si+2]
		}
		out[di+3] = 255
	}
	return out, nil
}

// decodeJPEG decodes an 8-bit JPEG tile into packed RGBA. This is the one
// built-in, fully working decoder: it lets the cache/single-flight/pyramid
// paths be exercised end-to-end in tests without depending on an external
// JPEG2000 library.
func decodeJPEG(src []byte, width, height, planeCount int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}

	out := make([]byte, width*height*4)
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	// Fluorescence tiles (planeCount > 1) carry one scalar channel per
	// plane rather than packed RGB24; spec §9 flags this composition as
	// an ambiguous-intent site ("the source alternates between
	// 4-byte-per-pixel RGB24 and 4-channel scalar"). This reproduces both
	// paths rather than silently picking one: packed RGBA for brightfield
	// (planeCount == 1), scalar-replicated-into-RGB with full alpha for
	// fluorescence (planeCount > 1).
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			di := (y*width + x) * 4
			if x >= srcW || y >= srcH {
				out[di+3] = 255 // transparent-black padding stays opaque black, matching vendor background fill
				continue
			}
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			if planeCount > 1 {
				v := byte(r >> 8)
				out[di+0] = v
				out[di+1] = v
				out[di+2] = v
				out[di+3] = 255
				continue
			}
			out[di+0] = byte(r >> 8)
			out[di+1] = byte(g >> 8)
			out[di+2] = byte(b >> 8)
			out[di+3] = 255
		}
	}
	return out, nil
}
