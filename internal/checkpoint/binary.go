package checkpoint

import (
	"bytes"
	"math"
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"cgan-forge/internal/optim"
)

// The binary format is a magic prefix followed by a protobuf message:
//
//	Checkpoint { 1 state, 2 generator*, 3 discriminator*, 4 gen_opt, 5 disc_opt }
//	State      { 1 epoch, 2 global_step, 3 run_id, 4 model_type, 5 saved_at }
//	Tensor     { 1 name, 2 rows, 3 cols, 4 data (packed double) }
//	OptState   { 1 type, 2 step, 3 hyper*, 4 slots* }
//	Hyper      { 1 key, 2 value (double) }
var magic = []byte("CGK1")

func marshalBinary(c *Checkpoint) []byte {
	b := append([]byte(nil), magic...)
	b = appendMessage(b, 1, appendState(nil, c.TrainingState))
	for _, t := range c.Generator {
		b = appendMessage(b, 2, appendTensor(nil, t))
	}
	for _, t := range c.Discriminator {
		b = appendMessage(b, 3, appendTensor(nil, t))
	}
	b = appendMessage(b, 4, appendOptState(nil, c.GeneratorOptimizer))
	b = appendMessage(b, 5, appendOptState(nil, c.DiscriminatorOptimizer))
	return b
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendVarint(b []byte, num protowire.Number, v int) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendState(b []byte, s TrainingState) []byte {
	b = appendVarint(b, 1, s.Epoch)
	b = appendVarint(b, 2, s.GlobalStep)
	b = appendString(b, 3, s.RunID)
	b = appendString(b, 4, s.ModelType)
	return appendVarint(b, 5, int(s.SavedAt))
}

func appendTensor(b []byte, t Tensor) []byte {
	b = appendString(b, 1, t.Name)
	b = appendVarint(b, 2, t.Rows)
	b = appendVarint(b, 3, t.Cols)
	packed := make([]byte, 0, 8*len(t.Data))
	for _, v := range t.Data {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendMessage(b, 4, packed)
}

func appendOptState(b []byte, s optim.State) []byte {
	b = appendString(b, 1, s.Type)
	b = appendVarint(b, 2, s.Step)
	keys := make([]string, 0, len(s.Hyper))
	for k := range s.Hyper {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h := appendString(nil, 1, k)
		h = protowire.AppendTag(h, 2, protowire.Fixed64Type)
		h = protowire.AppendFixed64(h, math.Float64bits(s.Hyper[k]))
		b = appendMessage(b, 3, h)
	}
	for _, slot := range s.Slots {
		b = appendMessage(b, 4, appendTensor(nil, Tensor(slot)))
	}
	return b
}

func unmarshalBinary(data []byte) (*Checkpoint, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, errors.New("not a binary checkpoint")
	}
	c := &Checkpoint{}
	err := decodeFields(data[len(magic):], func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		var err error
		switch num {
		case 1:
			c.TrainingState, err = decodeState(msg)
		case 2, 3:
			var t Tensor
			if t, err = decodeTensor(msg); err == nil {
				if num == 2 {
					c.Generator = append(c.Generator, t)
				} else {
					c.Discriminator = append(c.Discriminator, t)
				}
			}
		case 4:
			c.GeneratorOptimizer, err = decodeOptState(msg)
		case 5:
			c.DiscriminatorOptimizer, err = decodeOptState(msg)
		}
		return n, err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// decodeFields walks the fields of one message. fn returns how many bytes
// of the value it consumed; 0 skips the field.
func decodeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func consumeInt(typ protowire.Type, b []byte, dst *int) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n > 0 {
		*dst = int(v)
	}
	return n
}

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	s, n := protowire.ConsumeString(b)
	if n > 0 {
		*dst = s
	}
	return n
}

func decodeState(b []byte) (TrainingState, error) {
	var s TrainingState
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt(typ, b, &s.Epoch), nil
		case 2:
			return consumeInt(typ, b, &s.GlobalStep), nil
		case 3:
			return consumeString(typ, b, &s.RunID), nil
		case 4:
			return consumeString(typ, b, &s.ModelType), nil
		case 5:
			var v int
			n := consumeInt(typ, b, &v)
			s.SavedAt = int64(v)
			return n, nil
		}
		return 0, nil
	})
	return s, err
}

func decodeTensor(b []byte) (Tensor, error) {
	var t Tensor
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &t.Name), nil
		case 2:
			return consumeInt(typ, b, &t.Rows), nil
		case 3:
			return consumeInt(typ, b, &t.Cols), nil
		case 4:
			if typ != protowire.BytesType {
				return 0, nil
			}
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			if len(packed)%8 != 0 {
				return 0, errors.Errorf("tensor %q: packed data of %d bytes", t.Name, len(packed))
			}
			t.Data = make([]float64, 0, len(packed)/8)
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				t.Data = append(t.Data, math.Float64frombits(v))
				packed = packed[m:]
			}
			return n, nil
		}
		return 0, nil
	})
	return t, err
}

func decodeOptState(b []byte) (optim.State, error) {
	s := optim.State{Hyper: map[string]float64{}}
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &s.Type), nil
		case 2:
			return consumeInt(typ, b, &s.Step), nil
		case 3, 4:
			if typ != protowire.BytesType {
				return 0, nil
			}
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			if num == 4 {
				t, err := decodeTensor(msg)
				s.Slots = append(s.Slots, optim.Slot(t))
				return n, err
			}
			key, value, err := decodeHyper(msg)
			s.Hyper[key] = value
			return n, err
		}
		return 0, nil
	})
	return s, err
}

func decodeHyper(b []byte) (string, float64, error) {
	var (
		key   string
		value float64
	)
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1:
			return consumeString(typ, b, &key), nil
		case num == 2 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			value = math.Float64frombits(v)
			return n, nil
		}
		return 0, nil
	})
	return key, value, err
}
