package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
)

// CompactAddrLen 紧凑地址长度：4 字节 IP + 2 字节端口
const CompactAddrLen = 6

// CompactAddr 将地址编码为紧凑格式（大端序）
// 例如: 192.168.1.100:6881 -> [0xC0, 0xA8, 0x01, 0x64, 0x1A, 0xE1]
func CompactAddr(addr netip.AddrPort) ([]byte, error) {
	ip, ok := ToIPv4(addr.Addr())
	if !ok {
		return nil, fmt.Errorf("address %s is not IPv4: %w", addr, ErrMalformed)
	}
	buf := make([]byte, CompactAddrLen)
	a4 := ip.As4()
	copy(buf[:4], a4[:])
	binary.BigEndian.PutUint16(buf[4:6], addr.Port())
	return buf, nil
}

// DecompactAddr 解码紧凑格式地址
func DecompactAddr(data []byte) (netip.AddrPort, error) {
	if len(data) != CompactAddrLen {
		return netip.AddrPort{}, fmt.Errorf("invalid compact address length %d: %w", len(data), ErrMalformed)
	}
	ip := netip.AddrFrom4([4]byte(data[:4]))
	return netip.AddrPortFrom(ip, binary.BigEndian.Uint16(data[4:6])), nil
}

// ToIPv4 把 IPv4 或 IPv4-mapped 地址转换为 4 字节形式
// IPv6 回环地址映射为 127.0.0.1，其余 IPv6 地址无法编码
func ToIPv4(ip netip.Addr) (netip.Addr, bool) {
	if !ip.IsValid() {
		return netip.IPv4Unspecified(), true
	}
	ip = ip.Unmap()
	if ip.Is4() {
		return ip, true
	}
	if ip.IsLoopback() {
		return netip.AddrFrom4([4]byte{127, 0, 0, 1}), true
	}
	return netip.Addr{}, false
}

// AddrPortOf 从 net.Addr（通常是连接的远端地址）提取 netip.AddrPort
func AddrPortOf(a net.Addr) (netip.AddrPort, error) {
	if tcp, ok := a.(*net.TCPAddr); ok {
		return tcp.AddrPort(), nil
	}
	return netip.ParseAddrPort(a.String())
}
