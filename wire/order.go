package wire

// Byte order conversion between host (little-endian on all deployed boards)
// and network (big-endian). Each function is its own inverse.

func HostToNetwork16(v uint16) uint16 {
	return (v&0xff00)>>8 | (v&0x00ff)<<8
}

func HostToNetwork32(v uint32) uint32 {
	return (v&0xff000000)>>24 |
		(v&0x00ff0000)>>8 |
		(v&0x0000ff00)<<8 |
		(v&0x000000ff)<<24
}

func HostToNetwork64(v uint64) uint64 {
	return uint64(HostToNetwork32(uint32(v)))<<32 | uint64(HostToNetwork32(uint32(v>>32)))
}

func NetworkToHost16(v uint16) uint16 { return HostToNetwork16(v) }
func NetworkToHost32(v uint32) uint32 { return HostToNetwork32(v) }
func NetworkToHost64(v uint64) uint64 { return HostToNetwork64(v) }
