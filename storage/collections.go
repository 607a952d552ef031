package storage

import (
	"math"
	"strconv"
	"time"
)

// lookupTyped returns the value at key if it has type t. A missing key
// yields (nil, nil).
func (s *Store) lookupTyped(key string, t ValueType) (*Value, error) {
	v, ok := s.Lookup(key)
	if !ok {
		return nil, nil
	}
	if v.Type != t {
		return nil, ErrWrongType
	}
	return v, nil
}

// getOrCreate returns the value at key, creating it with ctor if missing.
// A key of another type yields ErrWrongType and is left untouched.
func (s *Store) getOrCreate(key string, t ValueType, ctor func() *Value) (*Value, error) {
	v, err := s.lookupTyped(key, t)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = ctor()
		s.data[key] = v
	}
	return v, nil
}

// String returns the string stored at key
func (s *Store) String(key string) ([]byte, bool, error) {
	v, err := s.lookupTyped(key, ValueTypeString)
	if err != nil || v == nil {
		return nil, false, err
	}
	return v.Data.(*StringValue).Data, true, nil
}

// SetString stores a string, replacing any value and expiry at key.
// A zero expireAt stores the key without expiry.
func (s *Store) SetString(key string, data []byte, expireAt time.Time) {
	v := NewString(data)
	v.ExpireAt = expireAt
	s.Put(key, v)
}

// IncrBy adds delta to the integer stored at key, keeping its expiry
func (s *Store) IncrBy(key string, delta int64) (int64, error) {
	v, err := s.lookupTyped(key, ValueTypeString)
	if err != nil {
		return 0, err
	}

	var current int64
	if v != nil {
		current, err = strconv.ParseInt(string(v.Data.(*StringValue).Data), 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
	}

	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return 0, ErrOverflow
	}
	current += delta

	data := []byte(strconv.FormatInt(current, 10))
	if v != nil {
		v.Data.(*StringValue).Data = data
		s.Touch(key)
	} else {
		s.Put(key, NewString(data))
	}
	return current, nil
}

// Append appends data to the string at key and returns the new length
func (s *Store) Append(key string, data []byte) (int, error) {
	v, err := s.getOrCreate(key, ValueTypeString, func() *Value { return NewString(nil) })
	if err != nil {
		return 0, err
	}
	sv := v.Data.(*StringValue)
	sv.Data = append(sv.Data, data...)
	s.Touch(key)
	return len(sv.Data), nil
}

// List returns the list at key, or nil if missing
func (s *Store) List(key string) (*ListValue, error) {
	v, err := s.lookupTyped(key, ValueTypeList)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Data.(*ListValue), nil
}

// ListPush inserts values at the head (left) or tail of the list at key,
// creating it if needed, and returns the new length. Values pushed on the
// left end up in reverse argument order, as with LPUSH.
func (s *Store) ListPush(key string, left bool, values ...[]byte) (int, error) {
	v, err := s.getOrCreate(key, ValueTypeList, newList)
	if err != nil {
		return 0, err
	}
	l := v.Data.(*ListValue)
	if left {
		head := make([][]byte, 0, len(values)+len(l.Elements))
		for i := len(values) - 1; i >= 0; i-- {
			head = append(head, values[i])
		}
		l.Elements = append(head, l.Elements...)
	} else {
		l.Elements = append(l.Elements, values...)
	}
	s.Touch(key)
	return len(l.Elements), nil
}

// ListPop removes up to count elements from the head (left) or tail of
// the list at key. The key is deleted once the list is empty.
func (s *Store) ListPop(key string, left bool, count int) ([][]byte, error) {
	l, err := s.List(key)
	if err != nil || l == nil {
		return nil, err
	}
	if count > len(l.Elements) {
		count = len(l.Elements)
	}

	out := make([][]byte, count)
	if left {
		copy(out, l.Elements[:count])
		l.Elements = l.Elements[count:]
	} else {
		n := len(l.Elements)
		for i := 0; i < count; i++ {
			out[i] = l.Elements[n-1-i]
		}
		l.Elements = l.Elements[:n-count]
	}
	s.Touch(key)
	s.DeleteIfEmpty(key)
	return out, nil
}

// Hash returns the hash at key, or nil if missing
func (s *Store) Hash(key string) (*HashValue, error) {
	v, err := s.lookupTyped(key, ValueTypeHash)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Data.(*HashValue), nil
}

// HashSet sets field/value pairs and returns how many fields were new
func (s *Store) HashSet(key string, pairs ...[]byte) (int, error) {
	v, err := s.getOrCreate(key, ValueTypeHash, newHash)
	if err != nil {
		return 0, err
	}
	h := v.Data.(*HashValue)
	added := 0
	for i := 0; i+1 < len(pairs); i += 2 {
		field := string(pairs[i])
		if _, ok := h.Fields[field]; !ok {
			added++
		}
		h.Fields[field] = pairs[i+1]
	}
	s.Touch(key)
	return added, nil
}

// HashDelete removes fields and returns how many existed
func (s *Store) HashDelete(key string, fields ...string) (int, error) {
	h, err := s.Hash(key)
	if err != nil || h == nil {
		return 0, err
	}
	removed := 0
	for _, f := range fields {
		if _, ok := h.Fields[f]; ok {
			delete(h.Fields, f)
			removed++
		}
	}
	if removed > 0 {
		s.Touch(key)
		s.DeleteIfEmpty(key)
	}
	return removed, nil
}

// Set returns the set at key, or nil if missing
func (s *Store) Set(key string) (*SetValue, error) {
	v, err := s.lookupTyped(key, ValueTypeSet)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Data.(*SetValue), nil
}

// SetAdd adds members and returns how many were new
func (s *Store) SetAdd(key string, members ...string) (int, error) {
	v, err := s.getOrCreate(key, ValueTypeSet, newSet)
	if err != nil {
		return 0, err
	}
	set := v.Data.(*SetValue)
	added := 0
	for _, m := range members {
		if _, ok := set.Members[m]; !ok {
			set.Members[m] = struct{}{}
			added++
		}
	}
	s.Touch(key)
	return added, nil
}

// SetRemove removes members and returns how many existed
func (s *Store) SetRemove(key string, members ...string) (int, error) {
	set, err := s.Set(key)
	if err != nil || set == nil {
		return 0, err
	}
	removed := 0
	for _, m := range members {
		if _, ok := set.Members[m]; ok {
			delete(set.Members, m)
			removed++
		}
	}
	if removed > 0 {
		s.Touch(key)
		s.DeleteIfEmpty(key)
	}
	return removed, nil
}

// ZSet returns the sorted set at key, or nil if missing
func (s *Store) ZSet(key string) (*ZSetValue, error) {
	v, err := s.lookupTyped(key, ValueTypeZSet)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Data.(*ZSetValue), nil
}

// ZSetFor returns the sorted set at key, creating it if needed
func (s *Store) ZSetFor(key string) (*ZSetValue, error) {
	v, err := s.getOrCreate(key, ValueTypeZSet, newZSet)
	if err != nil {
		return nil, err
	}
	return v.Data.(*ZSetValue), nil
}

// Stream returns the stream at key, or nil if missing
func (s *Store) Stream(key string) (*StreamValue, error) {
	v, err := s.lookupTyped(key, ValueTypeStream)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Data.(*StreamValue), nil
}

// StreamFor returns the stream at key, creating it if needed
func (s *Store) StreamFor(key string) (*StreamValue, error) {
	v, err := s.getOrCreate(key, ValueTypeStream, newStream)
	if err != nil {
		return nil, err
	}
	return v.Data.(*StreamValue), nil
}
