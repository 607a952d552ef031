package storage

import (
	"github.com/google/btree"
)

// ZSetMember represents a sorted set member with score
type ZSetMember struct {
	Member string
	Score  float64
}

func zsetLess(a, b ZSetMember) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Member < b.Member
}

// ZSetValue represents a sorted set: a member to score map plus a B-tree
// ordered by (score, member).
type ZSetValue struct {
	scores map[string]float64
	tree   *btree.BTreeG[ZSetMember]
}

// NewZSetValue returns an empty sorted set
func NewZSetValue() *ZSetValue {
	return &ZSetValue{
		scores: make(map[string]float64),
		tree:   btree.NewG[ZSetMember](16, zsetLess),
	}
}

// Len returns the number of members
func (z *ZSetValue) Len() int {
	return len(z.scores)
}

// Add sets the score of member and reports whether it was new
func (z *ZSetValue) Add(member string, score float64) bool {
	old, exists := z.scores[member]
	if exists {
		if old == score {
			return false
		}
		z.tree.Delete(ZSetMember{Member: member, Score: old})
	}
	z.scores[member] = score
	z.tree.ReplaceOrInsert(ZSetMember{Member: member, Score: score})
	return !exists
}

// Remove deletes member and reports whether it existed
func (z *ZSetValue) Remove(member string) bool {
	score, ok := z.scores[member]
	if !ok {
		return false
	}
	delete(z.scores, member)
	z.tree.Delete(ZSetMember{Member: member, Score: score})
	return true
}

// Score returns the score of member
func (z *ZSetValue) Score(member string) (float64, bool) {
	score, ok := z.scores[member]
	return score, ok
}

// Rank returns the zero based position of member in ascending order
func (z *ZSetValue) Rank(member string) (int, bool) {
	score, ok := z.scores[member]
	if !ok {
		return 0, false
	}
	rank := 0
	target := ZSetMember{Member: member, Score: score}
	z.tree.AscendLessThan(target, func(ZSetMember) bool {
		rank++
		return true
	})
	return rank, true
}

// Range returns members with rank in [start, stop], both inclusive and
// already normalized to non-negative values.
func (z *ZSetValue) Range(start, stop int) []ZSetMember {
	if start > stop || start >= z.Len() {
		return nil
	}
	out := make([]ZSetMember, 0, stop-start+1)
	i := 0
	z.tree.Ascend(func(m ZSetMember) bool {
		if i > stop {
			return false
		}
		if i >= start {
			out = append(out, m)
		}
		i++
		return true
	})
	return out
}

// ScoreBound is one end of a score interval
type ScoreBound struct {
	Value     float64
	Exclusive bool
}

func (b ScoreBound) belowOrAt(score float64) bool {
	if b.Exclusive {
		return b.Value < score
	}
	return b.Value <= score
}

func (b ScoreBound) aboveOrAt(score float64) bool {
	if b.Exclusive {
		return score < b.Value
	}
	return score <= b.Value
}

// RangeByScore returns members with min <= score <= max in ascending order
func (z *ZSetValue) RangeByScore(min, max ScoreBound) []ZSetMember {
	var out []ZSetMember
	z.tree.Ascend(func(m ZSetMember) bool {
		if !max.aboveOrAt(m.Score) {
			return false
		}
		if min.belowOrAt(m.Score) {
			out = append(out, m)
		}
		return true
	})
	return out
}

// Count returns how many members fall within [min, max]
func (z *ZSetValue) Count(min, max ScoreBound) int {
	return len(z.RangeByScore(min, max))
}

// Members returns every member in ascending order
func (z *ZSetValue) Members() []ZSetMember {
	out := make([]ZSetMember, 0, z.Len())
	z.tree.Ascend(func(m ZSetMember) bool {
		out = append(out, m)
		return true
	})
	return out
}
