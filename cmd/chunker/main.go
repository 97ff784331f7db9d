// Command chunker scans a disk image, uploading every in-use chunk and the
// resulting image manifest to a running pixie-server over its TCP control
// protocol.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/chunker"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/diskscan"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/wire"
)

func main() {
	server := flag.String("server", "", "pixie-server host:port")
	imageName := flag.String("image", "", "image name to register this disk under")
	bootOptionID := flag.Uint("boot-option-id", 0, "UEFI boot option id")
	flag.Parse()

	if flag.NArg() < 1 || *server == "" || *imageName == "" {
		fmt.Fprintln(os.Stderr, "Usage: chunker -server <host:port> -image <name> <disk_path>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	diskPath := flag.Arg(0)

	f, err := os.Open(diskPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", diskPath, err)
		os.Exit(2)
	}
	defer f.Close()

	ranges, err := diskscan.Scan(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan %s: %v\n", diskPath, err)
		os.Exit(3)
	}
	fmt.Fprintf(os.Stderr, "%s: %d in-use ranges\n", diskPath, len(ranges))

	conn, err := net.Dial("tcp", *server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *server, err)
		os.Exit(4)
	}
	defer conn.Close()

	var chunks []store.Chunk
	for i, rng := range ranges {
		hash, plainSize, cdata, err := chunker.ReadCompressHash(f, rng)
		if err != nil {
			fmt.Fprintf(os.Stderr, "range %d: %v\n", i, err)
			os.Exit(5)
		}
		if err := uploadChunk(conn, cdata); err != nil {
			fmt.Fprintf(os.Stderr, "upload chunk %d: %v\n", i, err)
			os.Exit(6)
		}
		chunks = append(chunks, store.Chunk{
			Hash:  store.ChunkHash(hash),
			Start: rng.Start,
			Size:  uint32(plainSize),
			Csize: uint32(len(cdata)),
		})
		fmt.Fprintf(os.Stderr, "\ruploaded %d/%d chunks", i+1, len(ranges))
	}
	fmt.Fprintln(os.Stderr)

	img := store.Image{BootOptionID: uint16(*bootOptionID), Disk: chunks}
	if err := uploadImage(conn, *imageName, img); err != nil {
		fmt.Fprintf(os.Stderr, "upload image: %v\n", err)
		os.Exit(7)
	}
	fmt.Fprintf(os.Stderr, "image %q registered with %d chunks\n", *imageName, len(chunks))
}

func uploadChunk(conn net.Conn, cdata []byte) error {
	req, err := wire.EncodeUploadChunk(cdata)
	if err != nil {
		return err
	}
	return roundTrip(conn, req)
}

func uploadImage(conn net.Conn, name string, img store.Image) error {
	req, err := wire.EncodeUploadImage(name, img)
	if err != nil {
		return err
	}
	return roundTrip(conn, req)
}

func roundTrip(conn net.Conn, req []byte) error {
	if err := wire.WriteFrame(conn, req); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	msg, err := wire.DecodeOutcome(resp)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if msg != "" {
		return fmt.Errorf("server: %s", msg)
	}
	return nil
}
