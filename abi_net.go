package guestcore

import "math/bits"

const (
	NET_SOCKET_ADDR_SIZE = 8
	NET_CONFIG_NAME_SIZE = 32

	NET_DNS_MAX_DOMAIN_NAME = 255
	NET_DNS_MAX_ALIASES     = 1
	NET_DNS_MAX_ADDRESSES   = 4

	netHostNameOffset      = 16
	netHostAliasListOffset = netHostNameOffset + NET_DNS_MAX_DOMAIN_NAME + 1
	netHostAliasesOffset   = netHostAliasListOffset + (NET_DNS_MAX_ALIASES+1)*4
	netHostAddrListOffset  = netHostAliasesOffset + NET_DNS_MAX_ALIASES*(NET_DNS_MAX_DOMAIN_NAME+1)
	netHostAddressOffset   = netHostAddrListOffset + NET_DNS_MAX_ADDRESSES*4

	NET_HOST_INFO_BUF_SIZE = netHostAddressOffset + NET_DNS_MAX_ADDRESSES*4
)

// NetSocketAddr is an IPv4 socket address. Port is kept in host order and
// stored byte-swapped, the way the guest network library expects it.
type NetSocketAddr struct {
	Family uint16
	Port   uint16
	Addr   uint32
}

// EncodeNetSocketAddr writes family and port as 16-bit fields. Some older
// loaders used overlapping 32-bit stores here, which wiped both.
func EncodeNetSocketAddr(m *GuestMemory, addr GuestAddr, a *NetSocketAddr) {
	if addr == GuestNull || a == nil {
		return
	}
	m.Write16(addr, a.Family)
	m.Write16(addr+2, bits.ReverseBytes16(a.Port))
	m.Write32(addr+4, a.Addr)
}

func DecodeNetSocketAddr(m *GuestMemory, addr GuestAddr) NetSocketAddr {
	if addr == GuestNull {
		return NetSocketAddr{}
	}
	return NetSocketAddr{
		Family: m.Read16(addr),
		Port:   bits.ReverseBytes16(m.Read16(addr + 2)),
		Addr:   m.Read32(addr + 4),
	}
}

// NetConfigName is a fixed 32-byte, NUL padded configuration name.
type NetConfigName struct {
	Name [NET_CONFIG_NAME_SIZE]byte
}

func NewNetConfigName(name string) NetConfigName {
	var n NetConfigName
	copy(n.Name[:NET_CONFIG_NAME_SIZE-1], name)
	return n
}

func (n NetConfigName) String() string {
	for i, b := range n.Name {
		if b == 0 {
			return string(n.Name[:i])
		}
	}
	return string(n.Name[:])
}

func EncodeNetConfigName(m *GuestMemory, addr GuestAddr, n *NetConfigName) {
	if addr == GuestNull || n == nil {
		return
	}
	for i, b := range n.Name {
		m.Write8(addr+GuestAddr(i), b)
	}
}

func DecodeNetConfigName(m *GuestMemory, addr GuestAddr) NetConfigName {
	var n NetConfigName
	if addr == GuestNull {
		return n
	}
	for i := range n.Name {
		n.Name[i] = m.Read8(addr + GuestAddr(i))
	}
	return n
}

// NetHostInfoBuf is a resolver result. The guest layout is self-referential:
// the header pointers aim into the variable part of the same buffer.
type NetHostInfoBuf struct {
	AddrType  uint16
	AddrLen   uint16
	Name      string
	Aliases   []string // at most NET_DNS_MAX_ALIASES
	Addresses [NET_DNS_MAX_ADDRESSES]uint32
}

func writeFixedString(m *GuestMemory, addr GuestAddr, s string, size int) {
	for i := 0; i < size; i++ {
		var b byte
		if i < len(s) && i < size-1 {
			b = s[i]
		}
		m.Write8(addr+GuestAddr(i), b)
	}
}

func EncodeNetHostInfoBuf(m *GuestMemory, addr GuestAddr, b *NetHostInfoBuf) {
	if addr == GuestNull || b == nil {
		return
	}
	m.Write32(addr, uint32(addr+netHostNameOffset))
	m.Write32(addr+4, uint32(addr+netHostAliasListOffset))
	m.Write16(addr+8, b.AddrType)
	m.Write16(addr+10, b.AddrLen)
	m.Write32(addr+12, uint32(addr+netHostAddrListOffset))

	writeFixedString(m, addr+netHostNameOffset, b.Name, NET_DNS_MAX_DOMAIN_NAME+1)

	for i := 0; i < NET_DNS_MAX_ALIASES; i++ {
		alias := addr + netHostAliasesOffset + GuestAddr(i*(NET_DNS_MAX_DOMAIN_NAME+1))
		m.Write32(addr+netHostAliasListOffset+GuestAddr(4*i), uint32(alias))
		var s string
		if i < len(b.Aliases) {
			s = b.Aliases[i]
		}
		writeFixedString(m, alias, s, NET_DNS_MAX_DOMAIN_NAME+1)
	}
	m.Write32(addr+netHostAliasListOffset+4*NET_DNS_MAX_ALIASES, 0)

	for i, a := range b.Addresses {
		slot := addr + netHostAddressOffset + GuestAddr(4*i)
		m.Write32(addr+netHostAddrListOffset+GuestAddr(4*i), uint32(slot))
		m.Write32(slot, a)
	}
}

// DecodeNetHostInfoBuf follows the header pointers, so it also reads
// buffers whose variable part was laid out by guest code.
func DecodeNetHostInfoBuf(m *GuestMemory, addr GuestAddr) NetHostInfoBuf {
	var b NetHostInfoBuf
	if addr == GuestNull {
		return b
	}
	b.AddrType = m.Read16(addr + 8)
	b.AddrLen = m.Read16(addr + 10)
	b.Name = m.ReadCString(GuestAddr(m.Read32(addr)), NET_DNS_MAX_DOMAIN_NAME+1)

	aliasList := GuestAddr(m.Read32(addr + 4))
	for i := 0; aliasList != GuestNull && i < NET_DNS_MAX_ALIASES; i++ {
		p := GuestAddr(m.Read32(aliasList + GuestAddr(4*i)))
		if p == GuestNull {
			break
		}
		if s := m.ReadCString(p, NET_DNS_MAX_DOMAIN_NAME+1); s != "" {
			b.Aliases = append(b.Aliases, s)
		}
	}

	addrList := GuestAddr(m.Read32(addr + 12))
	for i := 0; addrList != GuestNull && i < NET_DNS_MAX_ADDRESSES; i++ {
		if p := GuestAddr(m.Read32(addrList + GuestAddr(4*i))); p != GuestNull {
			b.Addresses[i] = m.Read32(p)
		}
	}
	return b
}
