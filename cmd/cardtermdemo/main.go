// Command cardtermdemo wires the reader plugin registry, the selection
// pipeline, and the observation dispatcher together against a single
// PC/SC reader, and logs every reader event until interrupted.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dotside-studios/cardterm/buildinfo"
	"github.com/dotside-studios/cardterm/driver"
	"github.com/dotside-studios/cardterm/drivers/pcsc"
	"github.com/dotside-studios/cardterm/observation"
	"github.com/dotside-studios/cardterm/plugin"
	"github.com/dotside-studios/cardterm/reader"
	"github.com/dotside-studios/cardterm/selection"
)

var (
	readerNameFlag = flag.String("reader", "", "PC/SC reader name to attach to (see -list)")
	listFlag       = flag.Bool("list", false, "print PC/SC reader names and exit")
	aidFlag        = flag.String("aid", "A000000062", "hex AID to select on card insertion")
	versionFlag    = flag.Bool("version", false, "print version info and exit")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(buildinfo.BuildInfo())
		return
	}

	if *listFlag {
		names, err := pcsc.ListReaderNames()
		if err != nil {
			log.Fatalf("cardtermdemo: %v", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	if *readerNameFlag == "" {
		log.Fatal("cardtermdemo: -reader is required (PC/SC reader name, see -list)")
	}

	aid, err := hex.DecodeString(*aidFlag)
	if err != nil {
		log.Fatalf("cardtermdemo: invalid -aid: %v", err)
	}

	registry := plugin.NewRegistry()
	readerName := *readerNameFlag
	if err := registry.Register(readerName, func() (driver.Reader, error) {
		return pcsc.New(readerName)
	}); err != nil {
		log.Fatalf("cardtermdemo: %v", err)
	}

	rd, err := registry.GetReader(readerName)
	if err != nil {
		log.Fatalf("cardtermdemo: %v", err)
	}

	observers := observation.NewRegistry("pcsc", rd.Name())
	observers.SetExceptionHandler(func(pluginName, readerName string, err error) {
		log.Printf("observer or monitoring job error for %s/%s: %v", pluginName, readerName, err)
	})
	observers.AddObserver(observation.ObserverFunc(func(e observation.ReaderEvent) {
		log.Printf("[%s] %s %s", e.TraceID, e.ReaderName, e.Kind)
		if e.ScenarioResult != nil {
			if sc, ok := e.ScenarioResult.ActiveSmartCard(); ok && sc.SelectApplicationResponse != nil {
				log.Printf("  active smart card FCI: %X", sc.SelectApplicationResponse.Data())
			}
		}
	}))

	rdr := reader.New("pcsc", rd, observers, nil)
	if err := rdr.StartDetection(reader.Repeating, func() *selection.Pipeline {
		sel, err := selection.NewSelector("", "", aid, selection.FileOccurrenceFirst, selection.FileControlInfoFCI)
		if err != nil {
			log.Fatalf("cardtermdemo: building selector: %v", err)
		}
		p := selection.NewPipeline(selection.FirstMatch)
		if err := p.PrepareSelection(selection.NewRequest(sel, nil)); err != nil {
			log.Fatalf("cardtermdemo: preparing selection: %v", err)
		}
		return p
	}); err != nil {
		log.Fatalf("cardtermdemo: starting detection: %v", err)
	}

	log.Printf("cardtermdemo: watching %s for AID %X, press Ctrl+C to stop", rd.Name(), aid)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	if err := rdr.StopDetection(); err != nil {
		log.Printf("cardtermdemo: stop detection: %v", err)
	}
}
