package entity

import (
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Field value tags. Scalar values are tagged with their reflect.Kind so
// that numbers decode back into their original basic type.
const (
	tagEntity   = 254
	tagEntities = 255
)

var kindTypes = map[reflect.Kind]reflect.Type{
	reflect.Int:     reflect.TypeOf(int(0)),
	reflect.Int8:    reflect.TypeOf(int8(0)),
	reflect.Int16:   reflect.TypeOf(int16(0)),
	reflect.Int32:   reflect.TypeOf(int32(0)),
	reflect.Int64:   reflect.TypeOf(int64(0)),
	reflect.Uint:    reflect.TypeOf(uint(0)),
	reflect.Uint8:   reflect.TypeOf(uint8(0)),
	reflect.Uint16:  reflect.TypeOf(uint16(0)),
	reflect.Uint32:  reflect.TypeOf(uint32(0)),
	reflect.Uint64:  reflect.TypeOf(uint64(0)),
	reflect.Float32: reflect.TypeOf(float32(0)),
	reflect.Float64: reflect.TypeOf(float64(0)),
}

var (
	_ msgpack.CustomEncoder = (*Entity)(nil)
	_ msgpack.CustomDecoder = (*Entity)(nil)
)

// EncodeMsgpack implements msgpack.CustomEncoder. The encoding keeps the
// fields (including nested entities), the dirty set, the newness, the
// hidden fields, the source and the recorded errors.
func (e *Entity) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(6); err != nil {
		return err
	}
	if err := enc.EncodeString(e.source); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(e.newness)); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(e.order)); err != nil {
		return err
	}
	for _, f := range e.order {
		if err := encodeField(enc, f, e.fields[f]); err != nil {
			return fmt.Errorf("entity: encode field %q: %w", f, err)
		}
	}
	if err := enc.Encode(e.DirtyFields()); err != nil {
		return err
	}
	var hidden []string
	for _, f := range e.order {
		if e.hidden[f] {
			hidden = append(hidden, f)
		}
	}
	if err := enc.Encode(hidden); err != nil {
		return err
	}
	return enc.Encode(e.errors)
}

func encodeField(enc *msgpack.Encoder, name string, v any) error {
	if err := enc.EncodeArrayLen(3); err != nil {
		return err
	}
	if err := enc.EncodeString(name); err != nil {
		return err
	}
	switch v := v.(type) {
	case *Entity:
		if v != nil {
			if err := enc.EncodeUint(tagEntity); err != nil {
				return err
			}
			return enc.Encode(v)
		}
	case []*Entity:
		if err := enc.EncodeUint(tagEntities); err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, c := range v {
			if err := enc.Encode(c); err != nil {
				return err
			}
		}
		return nil
	}
	var kind reflect.Kind
	if v != nil {
		kind = reflect.TypeOf(v).Kind()
	}
	if err := enc.EncodeUint(uint64(kind)); err != nil {
		return err
	}
	return enc.Encode(v)
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (e *Entity) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 6 {
		return fmt.Errorf("entity: unexpected encoding with %d elements", n)
	}
	*e = Entity{}
	if e.source, err = dec.DecodeString(); err != nil {
		return err
	}
	newness, err := dec.DecodeInt8()
	if err != nil {
		return err
	}
	nf, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	for i := 0; i < nf; i++ {
		name, v, err := decodeField(dec)
		if err != nil {
			return err
		}
		e.Set(name, v)
	}
	clear(e.dirty)
	var dirty, hidden []string
	if err := dec.Decode(&dirty); err != nil {
		return err
	}
	for _, f := range dirty {
		e.SetDirty(f, true)
	}
	if err := dec.Decode(&hidden); err != nil {
		return err
	}
	if len(hidden) > 0 {
		e.SetHidden(hidden...)
	}
	if err := dec.Decode(&e.errors); err != nil {
		return err
	}
	e.newness = Newness(newness)
	return nil
}

func decodeField(dec *msgpack.Decoder) (string, any, error) {
	if _, err := dec.DecodeArrayLen(); err != nil {
		return "", nil, err
	}
	name, err := dec.DecodeString()
	if err != nil {
		return "", nil, err
	}
	tag, err := dec.DecodeUint8()
	if err != nil {
		return "", nil, err
	}
	switch tag {
	case tagEntity:
		c := &Entity{}
		if err := dec.Decode(c); err != nil {
			return "", nil, fmt.Errorf("entity: decode field %q: %w", name, err)
		}
		return name, c, nil
	case tagEntities:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return "", nil, err
		}
		list := make([]*Entity, n)
		for i := range list {
			list[i] = &Entity{}
			if err := dec.Decode(list[i]); err != nil {
				return "", nil, fmt.Errorf("entity: decode field %q: %w", name, err)
			}
		}
		return name, list, nil
	}
	v, err := dec.DecodeInterface()
	if err != nil {
		return "", nil, fmt.Errorf("entity: decode field %q: %w", name, err)
	}
	if t, ok := kindTypes[reflect.Kind(tag)]; ok && v != nil {
		if rv := reflect.ValueOf(v); rv.CanConvert(t) {
			v = rv.Convert(t).Interface()
		}
	}
	return name, v, nil
}
