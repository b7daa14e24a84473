package address

import "encoding/binary"

// HostToNet16 converts a 16 bit value from host to network byte order.
func HostToNet16(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}

// HostToNet32 converts a 32 bit value from host to network byte order.
func HostToNet32(v uint32) uint32 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return binary.NativeEndian.Uint32(b[:])
}

// NetToHost16 converts a 16 bit value from network to host byte order.
func NetToHost16(v uint16) uint16 {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], v)
	return binary.BigEndian.Uint16(b[:])
}

// NetToHost32 converts a 32 bit value from network to host byte order.
func NetToHost32(v uint32) uint32 {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], v)
	return binary.BigEndian.Uint32(b[:])
}
