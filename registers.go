// registers.go - Guest address map for the M68K guest core

/*
 ██▓ ███▄    █ ▄▄▄█████▓ █    ██  ██▓▄▄▄█████▓ ██▓ ▒█████   ███▄    █    ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████
▓██▒ ██ ▀█   █ ▓  ██▒ ▓▒ ██  ▓██▒▓██▒▓  ██▒ ▓▒▓██▒▒██▒  ██▒ ██ ▀█   █    ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀
▒██▒▓██  ▀█ ██▒▒ ▓██░ ▒░▓██  ▒██░▒██▒▒ ▓██░ ▒░▒██▒▒██░  ██▒▓██  ▀█ ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███
░██░▓██▒  ▐▌██▒░ ▓██▓ ░ ▓▓█  ░██░░██░░ ▓██▓ ░ ░██░▒██   ██░▓██▒  ▐▌██▒   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄
░██░▒██░   ▓██░  ▒██▒ ░ ▒▒█████▓ ░██░  ▒██▒ ░ ░██░░ ████▓▒░▒██░   ▓██░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒
░▓  ░ ▒░   ▒ ▒   ▒ ░░   ░▒▓▒ ▒ ▒ ░▓    ▒ ░░   ░▓  ░ ▒░▒░▒░ ░ ▒░   ▒ ▒    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░
 ▒ ░░ ░░   ░ ▒░    ░    ░░▒░ ░ ░  ▒ ░    ░     ▒ ░  ░ ▒ ▒░ ░ ░░   ░ ▒░    ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░
 ▒ ░   ░   ░ ░   ░       ░░░ ░ ░  ▒ ░  ░       ▒ ░░ ░ ░ ▒     ░   ░ ░       ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░
 ░           ░             ░      ░            ░      ░ ░           ░       ░  ░         ░       ░  ░           ░    ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/IntuitionEngine
License: GPLv3 or later
*/

/*
registers.go - Guest Address Map

The guest sees one flat 32-bit address space. Only three bands are meaningful:

Address Range                   Device                  Handling
---------------------------------------------------------------------------
0x00000000                      null                    never a valid pointer
0x00000001-H-1                  guest heap              bounds-checked RAM
H-(H+TRAPS_SIZE-1)              trap table              word reads synthesise RTS
0xFFFFF000-0xFFFFFFFF           hardware registers      read-as-zero, writes logged

H is the configured heap size. A direct call to H+n*4 is a call to system
trap 0xA000|n. The only modelled register is LSSA (LCD screen starting
address), which reports the guest address of the live framebuffer.
*/

package guestcore

const (
	REG_WINDOW_BASE = 0xFFFFF000 // Start of memory-mapped hardware registers
	REG_LSSA        = 0xFFFFFA00 // LCD screen starting address, 32 bits

	TRAPS_SIZE  = 0x40000 // Size of the synthetic trap table band above the heap
	TRAP_STRIDE = 4       // Bytes per trap slot in the trap band

	SYSTRAP_BASE = 0xA000 // System call numbers live in 0xA000|n
	SYSTRAP_MASK = 0x0FFF

	RTS_OPCODE = 0x4E75 // Synthesised for every word read in the trap band

	HEAP_RESERVED = 0x100 // Low heap bytes never handed out by the allocator
)

// trapAddress returns the trap band address that dispatches trap when called.
func trapAddress(heapSize uint32, trap uint16) GuestAddr {
	return GuestAddr(heapSize + uint32(trap&SYSTRAP_MASK)*TRAP_STRIDE)
}
