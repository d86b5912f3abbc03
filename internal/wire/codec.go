// Package wire 实现 Tracker 与 Peer 协议共用的二进制帧格式
// 所有整数均为大端序，与原有客户端逐字节兼容：
//   - 集合：4 字节数量 + 依次编码的元素
//   - 字符串：2 字节长度 + UTF-8 字节
//   - 地址：4 字节 IPv4 + 2 字节端口
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
)

// ErrMalformed 帧格式错误（负数长度、超长字符串、非 IPv4 地址等）
var ErrMalformed = errors.New("malformed frame")

// MaxStringLen 字符串最大字节数（2 字节长度前缀）
const MaxStringLen = 1<<16 - 1

// maxPrealloc 按数量预分配切片时的上限，防止恶意数量耗尽内存
const maxPrealloc = 1 << 16

// Writer 带粘滞错误的写入器，第一次失败之后的写入全部忽略
type Writer struct {
	w   *bufio.Writer
	buf [8]byte
	err error
}

// NewWriter 创建写入器
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Err 返回第一次写入失败的错误
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// Write 写入原始字节，实现 io.Writer
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.w.Write(p)
	if err != nil {
		w.fail(err)
	}
	return n, err
}

// Byte 写入单字节
func (w *Writer) Byte(b byte) {
	if w.err != nil {
		return
	}
	if err := w.w.WriteByte(b); err != nil {
		w.fail(err)
	}
}

// Bool 写入布尔值（1 字节）
func (w *Writer) Bool(v bool) {
	if v {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

// Uint16 写入 2 字节无符号整数
func (w *Writer) Uint16(v uint16) {
	binary.BigEndian.PutUint16(w.buf[:2], v)
	w.Write(w.buf[:2])
}

// Int32 写入 4 字节整数
func (w *Writer) Int32(v int32) {
	binary.BigEndian.PutUint32(w.buf[:4], uint32(v))
	w.Write(w.buf[:4])
}

// Int64 写入 8 字节整数
func (w *Writer) Int64(v int64) {
	binary.BigEndian.PutUint64(w.buf[:8], uint64(v))
	w.Write(w.buf[:8])
}

// Count 写入集合长度
func (w *Writer) Count(n int) {
	w.Int32(int32(n))
}

// String 写入带 2 字节长度前缀的 UTF-8 字符串
func (w *Writer) String(s string) {
	if len(s) > MaxStringLen {
		w.fail(fmt.Errorf("string of %d bytes: %w", len(s), ErrMalformed))
		return
	}
	w.Uint16(uint16(len(s)))
	w.Write([]byte(s))
}

// Addr 写入 IPv4 地址 + 端口
func (w *Writer) Addr(addr netip.AddrPort) {
	b, err := CompactAddr(addr)
	if err != nil {
		w.fail(err)
		return
	}
	w.Write(b)
}

// Flush 刷新缓冲区并返回累计的错误
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.w.Flush(); err != nil {
		w.fail(err)
	}
	return w.err
}

// WriteSlice 写入 4 字节数量 + 每个元素
func WriteSlice[T any](w *Writer, items []T, write func(*Writer, T)) {
	w.Count(len(items))
	for _, item := range items {
		write(w, item)
	}
}

// Reader 协议读取器，实现 io.Reader 以便直接流式读取分片数据
type Reader struct {
	r   *bufio.Reader
	buf [8]byte
}

// NewReader 创建读取器
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read 读取原始字节
func (r *Reader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

func (r *Reader) full(n int) ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.buf[:n]); err != nil {
		return nil, err
	}
	return r.buf[:n], nil
}

// Byte 读取单字节
func (r *Reader) Byte() (byte, error) {
	return r.r.ReadByte()
}

// Bool 读取布尔值，非零即为 true
func (r *Reader) Bool() (bool, error) {
	b, err := r.Byte()
	return b != 0, err
}

// Uint16 读取 2 字节无符号整数
func (r *Reader) Uint16() (uint16, error) {
	b, err := r.full(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Int32 读取 4 字节整数
func (r *Reader) Int32() (int32, error) {
	b, err := r.full(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// Int64 读取 8 字节整数
func (r *Reader) Int64() (int64, error) {
	b, err := r.full(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// Count 读取集合长度，负数视为格式错误
func (r *Reader) Count() (int, error) {
	n, err := r.Int32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d: %w", n, ErrMalformed)
	}
	return int(n), nil
}

// String 读取带长度前缀的字符串
func (r *Reader) String() (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Addr 读取 IPv4 地址 + 端口
func (r *Reader) Addr() (netip.AddrPort, error) {
	var b [CompactAddrLen]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return netip.AddrPort{}, err
	}
	return DecompactAddr(b[:])
}

// ReadSlice 读取 4 字节数量 + 元素，按数量预分配目标切片
func ReadSlice[T any](r *Reader, read func(*Reader) (T, error)) ([]T, error) {
	n, err := r.Count()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, min(n, maxPrealloc))
	for i := 0; i < n; i++ {
		item, err := read(r)
		if err != nil {
			return nil, fmt.Errorf("element %d of %d: %w", i, n, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// ReadInt32 可直接传给 ReadSlice
func ReadInt32(r *Reader) (int32, error) {
	return r.Int32()
}

// WriteInt32 可直接传给 WriteSlice
func WriteInt32(w *Writer, v int32) {
	w.Int32(v)
}

// ReadAddr 可直接传给 ReadSlice
func ReadAddr(r *Reader) (netip.AddrPort, error) {
	return r.Addr()
}

// WriteAddr 可直接传给 WriteSlice
func WriteAddr(w *Writer, a netip.AddrPort) {
	w.Addr(a)
}
