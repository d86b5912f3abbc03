package parts

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

var (
	// ErrOutOfRange 访问的分片下标超出位图大小
	ErrOutOfRange = errors.New("part index out of range")
	// ErrSizeMismatch 两个位图大小不一致
	ErrSizeMismatch = errors.New("bitmap size mismatch")
)

// Bitmap 定长分片位图，记录本地已持有的分片
// count 在每次 Set 时增量维护，Count() 为 O(1)
type Bitmap struct {
	size  int
	count int
	bits  *bitset.BitSet
}

// New 创建大小为 size 的位图，filled 为 true 时所有位置位
func New(size int, filled bool) *Bitmap {
	if size < 0 {
		size = 0
	}
	b := &Bitmap{
		size: size,
		bits: bitset.New(uint(size)),
	}
	if filled && size > 0 {
		b.bits.FlipRange(0, uint(size))
		b.count = size
	}
	return b
}

// Size 位图大小（分片总数）
func (b *Bitmap) Size() int {
	return b.size
}

// Count 已置位数量
func (b *Bitmap) Count() int {
	return b.count
}

// Full 是否所有分片都已持有
func (b *Bitmap) Full() bool {
	return b.count == b.size
}

// Get 读取第 pos 位
func (b *Bitmap) Get(pos int) (bool, error) {
	if pos < 0 || pos >= b.size {
		return false, fmt.Errorf("get %d of %d: %w", pos, b.size, ErrOutOfRange)
	}
	return b.bits.Test(uint(pos)), nil
}

// Has 与 Get 相同，越界时返回 false
func (b *Bitmap) Has(pos int) bool {
	ok, err := b.Get(pos)
	return err == nil && ok
}

// Set 设置第 pos 位，重复设置不会改变计数
func (b *Bitmap) Set(pos int, value bool) error {
	if pos < 0 || pos >= b.size {
		return fmt.Errorf("set %d of %d: %w", pos, b.size, ErrOutOfRange)
	}
	i := uint(pos)
	old := b.bits.Test(i)
	switch {
	case value && !old:
		b.bits.Set(i)
		b.count++
	case !value && old:
		b.bits.Clear(i)
		b.count--
	}
	return nil
}

// Subtract 从自身移除 other 中置位的所有位置
// 按字做差集后重新 popcount，而不是逐位翻转
func (b *Bitmap) Subtract(other *Bitmap) error {
	if other.size != b.size {
		return fmt.Errorf("subtract %d from %d: %w", other.size, b.size, ErrSizeMismatch)
	}
	b.bits.InPlaceDifference(other.bits)
	b.count = int(b.bits.Count())
	return nil
}

// FirstSetAtOrAfter 返回 >= pos 的最小置位下标，没有时第二个返回值为 false
func (b *Bitmap) FirstSetAtOrAfter(pos int) (int, bool) {
	if pos < 0 {
		pos = 0
	}
	if pos >= b.size {
		return 0, false
	}
	i, ok := b.bits.NextSet(uint(pos))
	if !ok || int(i) >= b.size {
		return 0, false
	}
	return int(i), true
}

// Indices 按升序返回所有置位下标
func (b *Bitmap) Indices() []int {
	out := make([]int, 0, b.count)
	for i, ok := b.bits.NextSet(0); ok && int(i) < b.size; i, ok = b.bits.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}

// Clone 深拷贝
func (b *Bitmap) Clone() *Bitmap {
	return &Bitmap{
		size:  b.size,
		count: b.count,
		bits:  b.bits.Clone(),
	}
}

// Equal 大小与置位完全一致
func (b *Bitmap) Equal(other *Bitmap) bool {
	if other == nil || b.size != other.size || b.count != other.count {
		return false
	}
	return b.bits.Equal(other.bits)
}

func (b *Bitmap) String() string {
	return fmt.Sprintf("%d/%d %v", b.count, b.size, b.Indices())
}
