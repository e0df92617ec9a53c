package guestcore

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/blake2b"
)

// testPRC packs a minimal application: header, entry segment returning 7
// in D0 and an empty relocation program.
func testPRC() (image []byte, code1 []byte) {
	code1 = words(opMoveqD0|7, M68K_RTS)
	image = BuildPRC("Seven", PRC_TYPE_APPL, testCreator,
		[]PRCResource{{Type: ResCode, ID: 0}, {Type: ResCode, ID: 1}, {Type: ResData, ID: 0}},
		[][]byte{concat(be32(0), be32(0)), code1, concat(be32(0), emptyDecomp(), emptyDecomp(), emptyDecomp(), xrefTail())},
	)
	return image, code1
}

func TestParsePRC(t *testing.T) {
	image, code1 := testPRC()
	p, err := ParsePRC(image)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Seven" || p.Type != PRC_TYPE_APPL || p.Creator != testCreator || p.Version != 1 {
		t.Errorf("header = %q %s %s v%d", p.Name, FourCC(p.Type), FourCC(p.Creator), p.Version)
	}
	if !p.IsApplication() {
		t.Error("IsApplication = false")
	}

	var sizes []uint32
	for _, r := range p.Resources {
		sizes = append(sizes, r.Size)
	}
	if diff := cmp.Diff([]uint32{8, 4, 43}, sizes); diff != "" {
		t.Errorf("resource sizes (-want +got):\n%s", diff)
	}
	got, ok := p.Resource(ResCode, 1)
	if !ok || !cmp.Equal(code1, got) {
		t.Errorf("code 1 = % X", got)
	}
	if _, ok := p.Resource(ResData, 1); ok {
		t.Error("found a resource that is not in the table")
	}

	id := p.Identity()
	if id.Fingerprint != blake2b.Sum256(code1) || id.Name != "Seven" || id.Creator != testCreator {
		t.Errorf("identity = %v %s", id, id.FingerprintHex())
	}
}

func TestParsePRCUnorderedOffsets(t *testing.T) {
	image, _ := testPRC()
	// Swap the first two table entries; sizes must follow file order.
	e0 := PRC_HEADER_SIZE
	e1 := PRC_HEADER_SIZE + PRC_ENTRY_SIZE
	first := append([]byte(nil), image[e0:e0+PRC_ENTRY_SIZE]...)
	copy(image[e0:], image[e1:e1+PRC_ENTRY_SIZE])
	copy(image[e1:], first)

	p, err := ParsePRC(image)
	if err != nil {
		t.Fatal(err)
	}
	if p.Resources[0].ID != 1 || p.Resources[0].Size != 4 || p.Resources[1].Size != 8 {
		t.Errorf("resources = %+v", p.Resources)
	}
}

func TestParsePRCErrors(t *testing.T) {
	valid, _ := testPRC()
	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), valid...))
	}
	tests := []struct {
		name  string
		image []byte
	}{
		{"empty", nil},
		{"short header", valid[:PRC_HEADER_SIZE-1]},
		{"record database", mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint16(b[prcOffAttributes:], 0)
			return b
		})},
		{"table past end", mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint16(b[prcOffNumRecords:], 200)
			return b
		})},
		{"offset past end", mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[PRC_HEADER_SIZE+6:], uint32(len(b)+1))
			return b
		})},
		{"offset inside table", mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[PRC_HEADER_SIZE+6:], PRC_HEADER_SIZE)
			return b
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePRC(tt.image); !errors.Is(err, ErrBadPRC) {
				t.Errorf("err = %v, want ErrBadPRC", err)
			}
		})
	}
}

func TestOpenPRCAndLaunch(t *testing.T) {
	image, _ := testPRC()
	path := filepath.Join(t.TempDir(), "seven.prc")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := OpenPRC(path)
	if err != nil {
		t.Fatal(err)
	}

	host := &recordingHost{}
	res, err := Launch(context.Background(), LaunchRequest{
		Resources: p,
		App:       p.Identity(),
		State:     StateOptions{Config: testConfig(), Logger: DiscardLogger(), Host: host},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Ran || res.Crashed || res.Instructions != 2 || !res.Report.Clean() {
		t.Errorf("result = %+v", res)
	}
	if diff := cmp.Diff([]compatCall{{testCreator, CompatOK, 0}}, host.compat); diff != "" {
		t.Errorf("compat (-want +got):\n%s", diff)
	}
}

func TestOpenPRCMissingFile(t *testing.T) {
	if _, err := OpenPRC(filepath.Join(t.TempDir(), "missing.prc")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v", err)
	}
}
