package snapshot

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/wippyai/componentize/errors"
	"github.com/wippyai/componentize/wasm"
)

// ImageVersion is the image format revision.
const ImageVersion = 1

var imageMagic = [4]byte{'c', 'z', 's', 'i'}

// Image is a sealed snapshot of an evaluated script: everything a runner
// needs to rebuild the interpreter state without the original inputs.
// The content id covers every preceding byte of the encoded form, so two
// builds share an id exactly when they share an image.
type Image struct {
	Version    uint32
	Engine     string
	World      [sha256.Size]byte
	ScriptName string
	Script     []byte
	Exports    []string
	// StubImports marks an image built to trap on every import call,
	// even when the runner supplies a resolver.
	StubImports bool
	Globals     []byte

	ContentID [sha256.Size]byte
}

const imageFlagStubImports = 1 << 0

func (img *Image) body() []byte {
	var buf bytes.Buffer
	buf.Write(imageMagic[:])
	wasm.WriteLEB128u(&buf, img.Version)
	writeString(&buf, img.Engine)
	buf.Write(img.World[:])
	writeString(&buf, img.ScriptName)
	writeBytes(&buf, img.Script)
	wasm.WriteLEB128u(&buf, uint32(len(img.Exports)))
	for _, name := range img.Exports {
		writeString(&buf, name)
	}
	var flags byte
	if img.StubImports {
		flags |= imageFlagStubImports
	}
	buf.WriteByte(flags)
	writeBytes(&buf, img.Globals)
	return buf.Bytes()
}

// Seal recomputes the content id from the current fields.
func (img *Image) Seal() {
	img.ContentID = sha256.Sum256(img.body())
}

// Encode renders the image bytes. The trailing content id is computed
// from the body, never taken from the field, so Encode cannot emit a
// stale id.
func (img *Image) Encode() []byte {
	body := img.body()
	sum := sha256.Sum256(body)
	return append(body, sum[:]...)
}

// DecodeImage parses an encoded image and verifies its content id.
func DecodeImage(data []byte) (*Image, error) {
	if len(data) < len(imageMagic)+sha256.Size || !bytes.Equal(data[:len(imageMagic)], imageMagic[:]) {
		return nil, errors.InvalidImage("not a snapshot image")
	}

	body, trailer := data[:len(data)-sha256.Size], data[len(data)-sha256.Size:]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:], trailer) {
		return nil, errors.InvalidImage("content id mismatch: image is corrupt or truncated")
	}

	r := bytes.NewReader(body[len(imageMagic):])
	img := &Image{ContentID: sum}
	dec := &imageDecoder{r: r}

	img.Version = dec.u32()
	if dec.err == nil && img.Version != ImageVersion {
		return nil, errors.InvalidImage("image format version %d, want %d", img.Version, ImageVersion)
	}
	img.Engine = dec.str()
	dec.read(img.World[:])
	img.ScriptName = dec.str()
	img.Script = dec.bytes()
	n := dec.u32()
	if dec.err == nil && uint64(n) > uint64(r.Len()) {
		return nil, errors.InvalidImage("image declares %d exports in %d bytes", n, r.Len())
	}
	for i := uint32(0); i < n && dec.err == nil; i++ {
		img.Exports = append(img.Exports, dec.str())
	}
	flags := dec.byte()
	if dec.err == nil && flags&^byte(imageFlagStubImports) != 0 {
		return nil, errors.InvalidImage("image carries unknown flags 0x%02x", flags)
	}
	img.StubImports = flags&imageFlagStubImports != 0
	img.Globals = dec.bytes()

	if dec.err != nil {
		return nil, dec.err
	}
	if r.Len() != 0 {
		return nil, errors.InvalidImage("image carries %d trailing bytes", r.Len())
	}
	return img, nil
}

type imageDecoder struct {
	r   *bytes.Reader
	err error
}

func (dec *imageDecoder) fail(err error, detail string) {
	if dec.err == nil {
		dec.err = errors.Wrap(errors.PhaseSnapshot, errors.KindInvalidImage, err, detail)
	}
}

func (dec *imageDecoder) u32() uint32 {
	if dec.err != nil {
		return 0
	}
	v, err := wasm.ReadLEB128u(dec.r)
	if err != nil {
		dec.fail(err, "read varint")
	}
	return v
}

func (dec *imageDecoder) byte() byte {
	if dec.err != nil {
		return 0
	}
	b, err := dec.r.ReadByte()
	if err != nil {
		dec.fail(err, "read flags")
	}
	return b
}

func (dec *imageDecoder) read(into []byte) {
	if dec.err != nil {
		return
	}
	if _, err := io.ReadFull(dec.r, into); err != nil {
		dec.fail(err, "read fixed field")
	}
}

func (dec *imageDecoder) bytes() []byte {
	n := dec.u32()
	if dec.err != nil {
		return nil
	}
	if uint64(n) > uint64(dec.r.Len()) {
		dec.fail(io.ErrUnexpectedEOF, fmt.Sprintf("field of %d bytes exceeds remaining %d", n, dec.r.Len()))
		return nil
	}
	b := make([]byte, n)
	dec.read(b)
	return b
}

func (dec *imageDecoder) str() string {
	return string(dec.bytes())
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	wasm.WriteLEB128u(buf, uint32(len(b)))
	buf.Write(b)
}
