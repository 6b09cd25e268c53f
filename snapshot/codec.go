package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"

	"github.com/dop251/goja"
	"github.com/wippyai/componentize/abi"
	"github.com/wippyai/componentize/errors"
	"github.com/wippyai/componentize/wasm"
)

// Deterministic codec for captured script globals. Values are tagged and
// length-prefixed; object keys keep insertion order; functions record
// their name only, since re-evaluation recreates the code; reference
// cycles abort the capture. Numbers serialize as canonicalized IEEE 754
// bits so NaN payloads cannot leak nondeterminism into the image.

const (
	tagUndefined = iota
	tagNull
	tagFalse
	tagTrue
	tagNumber
	tagString
	tagArray
	tagObject
	tagFunction
)

// CaptureGlobals serializes every own enumerable global binding, skipping
// the names in skip. The skip set is taken before evaluation, so only
// bindings the script itself created are captured; shadowed built-ins
// count as script state.
func CaptureGlobals(rt *goja.Runtime, skip map[string]bool) ([]byte, error) {
	global := rt.GlobalObject()

	var names []string
	for _, key := range global.Keys() {
		if !skip[key] {
			names = append(names, key)
		}
	}

	enc := &stateEncoder{visiting: make(map[*goja.Object]bool)}
	wasm.WriteLEB128u(&enc.buf, uint32(len(names)))
	for _, key := range names {
		writeString(&enc.buf, key)
		if err := enc.value(global.Get(key), key); err != nil {
			return nil, err
		}
	}
	return enc.buf.Bytes(), nil
}

type stateEncoder struct {
	buf      bytes.Buffer
	visiting map[*goja.Object]bool
}

func (enc *stateEncoder) value(v goja.Value, path string) error {
	if v == nil || goja.IsUndefined(v) {
		enc.buf.WriteByte(tagUndefined)
		return nil
	}
	if goja.IsNull(v) {
		enc.buf.WriteByte(tagNull)
		return nil
	}

	if obj, ok := v.(*goja.Object); ok {
		return enc.object(obj, v, path)
	}

	switch v.ExportType().Kind() {
	case reflect.Bool:
		if v.ToBoolean() {
			enc.buf.WriteByte(tagTrue)
		} else {
			enc.buf.WriteByte(tagFalse)
		}
	case reflect.String:
		enc.buf.WriteByte(tagString)
		writeString(&enc.buf, v.String())
	case reflect.Int64, reflect.Float64:
		enc.buf.WriteByte(tagNumber)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], abi.CanonicalizeF64(math.Float64bits(v.ToFloat())))
		enc.buf.Write(b[:])
	default:
		return errors.Unsupported(errors.PhaseSnapshot, fmt.Sprintf("global %s of type %s", path, v.ExportType()))
	}
	return nil
}

func (enc *stateEncoder) object(obj *goja.Object, v goja.Value, path string) error {
	if enc.visiting[obj] {
		return errors.Unsupported(errors.PhaseSnapshot, "cyclic global "+path)
	}
	enc.visiting[obj] = true
	defer delete(enc.visiting, obj)

	if _, ok := goja.AssertFunction(v); ok {
		enc.buf.WriteByte(tagFunction)
		name := ""
		if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
			name = n.String()
		}
		writeString(&enc.buf, name)
		return nil
	}

	switch obj.ClassName() {
	case "Array":
		n := uint32(obj.Get("length").ToInteger())
		enc.buf.WriteByte(tagArray)
		wasm.WriteLEB128u(&enc.buf, n)
		for i := uint32(0); i < n; i++ {
			idx := strconv.FormatUint(uint64(i), 10)
			if err := enc.value(obj.Get(idx), path+"["+idx+"]"); err != nil {
				return err
			}
		}
		return nil
	case "Object":
		keys := obj.Keys()
		enc.buf.WriteByte(tagObject)
		wasm.WriteLEB128u(&enc.buf, uint32(len(keys)))
		for _, key := range keys {
			writeString(&enc.buf, key)
			if err := enc.value(obj.Get(key), path+"."+key); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Unsupported(errors.PhaseSnapshot, fmt.Sprintf("global %s of class %s", path, obj.ClassName()))
	}
}

// RestoreGlobals applies a captured state blob onto a freshly evaluated
// runtime. Bindings whose captured form contains a function are left as
// evaluation recreated them (the build-time consistency check proved the
// two states serialize identically); every pure-data binding is
// overwritten with the captured value.
func RestoreGlobals(rt *goja.Runtime, data []byte) error {
	r := bytes.NewReader(data)
	n, err := wasm.ReadLEB128u(r)
	if err != nil {
		return errors.Wrap(errors.PhaseSnapshot, errors.KindInvalidImage, err, "read globals count")
	}

	global := rt.GlobalObject()
	dec := &stateDecoder{r: r, rt: rt}
	for i := uint32(0); i < n; i++ {
		name := dec.str()
		v, pure := dec.value()
		if dec.err != nil {
			return dec.err
		}
		if !pure {
			continue
		}
		if err := global.Set(name, v); err != nil {
			return errors.Wrap(errors.PhaseSnapshot, errors.KindInvalidImage, err, "restore global "+name)
		}
	}
	if dec.err != nil {
		return dec.err
	}
	if r.Len() != 0 {
		return errors.InvalidImage("globals blob carries %d trailing bytes", r.Len())
	}
	return nil
}

type stateDecoder struct {
	r   *bytes.Reader
	rt  *goja.Runtime
	err error
}

func (dec *stateDecoder) fail(err error, detail string) {
	if dec.err == nil {
		dec.err = errors.Wrap(errors.PhaseSnapshot, errors.KindInvalidImage, err, detail)
	}
}

func (dec *stateDecoder) byte() byte {
	if dec.err != nil {
		return 0
	}
	b, err := dec.r.ReadByte()
	if err != nil {
		dec.fail(err, "read value tag")
	}
	return b
}

func (dec *stateDecoder) u32() uint32 {
	if dec.err != nil {
		return 0
	}
	v, err := wasm.ReadLEB128u(dec.r)
	if err != nil {
		dec.fail(err, "read varint")
	}
	return v
}

func (dec *stateDecoder) str() string {
	n := dec.u32()
	if dec.err != nil {
		return ""
	}
	if uint64(n) > uint64(dec.r.Len()) {
		dec.fail(io.ErrUnexpectedEOF, fmt.Sprintf("string of %d bytes exceeds remaining %d", n, dec.r.Len()))
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(dec.r, b); err != nil {
		dec.fail(err, "read string")
		return ""
	}
	return string(b)
}

// value rebuilds one captured value. The pure flag is false when the
// subtree contains a function, in which case the caller keeps whatever
// evaluation produced.
func (dec *stateDecoder) value() (goja.Value, bool) {
	switch tag := dec.byte(); tag {
	case tagUndefined:
		return goja.Undefined(), true
	case tagNull:
		return goja.Null(), true
	case tagFalse:
		return dec.rt.ToValue(false), true
	case tagTrue:
		return dec.rt.ToValue(true), true
	case tagNumber:
		var b [8]byte
		if _, err := io.ReadFull(dec.r, b[:]); err != nil {
			dec.fail(err, "read number")
			return goja.Undefined(), true
		}
		return dec.rt.ToValue(math.Float64frombits(binary.LittleEndian.Uint64(b[:]))), true
	case tagString:
		return dec.rt.ToValue(dec.str()), true
	case tagArray:
		n := dec.u32()
		if dec.err != nil {
			return goja.Undefined(), true
		}
		items := make([]interface{}, 0, n)
		pure := true
		for i := uint32(0); i < n && dec.err == nil; i++ {
			v, p := dec.value()
			pure = pure && p
			items = append(items, v)
		}
		return dec.rt.NewArray(items...), pure
	case tagObject:
		n := dec.u32()
		obj := dec.rt.NewObject()
		pure := true
		for i := uint32(0); i < n && dec.err == nil; i++ {
			key := dec.str()
			v, p := dec.value()
			pure = pure && p
			if dec.err == nil {
				if err := obj.Set(key, v); err != nil {
					dec.fail(err, "rebuild object key "+key)
				}
			}
		}
		return obj, pure
	case tagFunction:
		dec.str() // recorded name, informational only
		return goja.Undefined(), false
	default:
		if dec.err == nil {
			dec.err = errors.InvalidImage("unknown value tag %d in globals blob", tag)
		}
		return goja.Undefined(), true
	}
}

func writeString(buf *bytes.Buffer, s string) {
	wasm.WriteLEB128u(buf, uint32(len(s)))
	buf.WriteString(s)
}
