// Command jsontab converts a JSON Lines file (or stdin) into an Arrow IPC
// stream.
package main

import (
	"flag"
	"io"
	"log"
	"os"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/lineforge/jsontable/reader"
	"github.com/lineforge/jsontable/serve"
)

func main() {
	blockSize := flag.Int("block-size", reader.DefaultBlockSize, "parse block size in bytes")
	useThreads := flag.Bool("threads", false, "process blocks on a worker pool")
	output := flag.String("o", "", "output file (default stdout)")
	flag.Parse()

	var in io.Reader = os.Stdin
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			log.Fatalf("Failed to open input: %v", err)
		}
		defer f.Close()
		in = f
	}

	rd, err := reader.NewTableReader(memory.DefaultAllocator, in, reader.ReadOptions{
		UseThreads: *useThreads,
		BlockSize:  *blockSize,
	}, reader.ParseOptions{})
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	table, err := rd.Read()
	if err != nil {
		log.Fatalf("Read failed: %v", err)
	}
	defer table.Release()

	data, err := serve.EncodeTable(memory.DefaultAllocator, table)
	if err != nil {
		log.Fatalf("IPC encoding failed: %v", err)
	}

	out := os.Stdout
	if *output != "" {
		out, err = os.Create(*output)
		if err != nil {
			log.Fatalf("Failed to create output: %v", err)
		}
		defer out.Close()
	}
	if _, err := out.Write(data); err != nil {
		log.Fatalf("Write failed: %v", err)
	}
	log.Printf("Wrote %d rows, %d columns", table.NumRows(), table.NumCols())
}
