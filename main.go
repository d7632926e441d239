package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"

	"github.com/cardside/euicc/pkg/apdu"
	"github.com/cardside/euicc/pkg/euicc"
	"github.com/cardside/euicc/pkg/mbim"
	"github.com/cardside/euicc/pkg/pcsc"
	"github.com/cardside/euicc/pkg/tlv"
)

var (
	devicePath = flag.String("device", "/dev/cdc-wdm0", "modem control device")
	usePcsc    = flag.Bool("pcsc", false, "read the EID through a local PC/SC reader instead of a modem")
)

func main() {
	flag.Parse()

	if *usePcsc {
		runPcsc()
		return
	}
	runModem()
}

// =========================================================================
// Modem transport
// =========================================================================

// logObserver prints presence notifications as they arrive.
type logObserver struct{}

func (logObserver) OnEuiccUpdated(slot int, eid string) {
	fmt.Printf(">> eUICC present in slot %d, EID %s\n", slot, eid)
}

func (logObserver) OnEuiccRemoved(slot int) {
	fmt.Printf(">> eUICC removed from slot %d\n", slot)
}

func (logObserver) OnLogicalSlotUpdated(physical, logical int, mapped bool) {
	fmt.Printf(">> logical slot %d mapped to physical slot %d (mapped=%v)\n", logical, physical, mapped)
}

func runModem() {
	fmt.Println("=============================================")
	fmt.Printf(" Step 1: Connect to modem (%s)\n", *devicePath)
	fmt.Println("=============================================")

	session := euicc.NewSession(mbim.NewCdcWdmDevice(*devicePath), logObserver{}, nil)
	session.Start()
	defer session.Stop()

	done := make(chan euicc.Result, 1)
	session.Initialize(func(r euicc.Result) { done <- r })
	if r := <-done; r != euicc.ResultSuccess {
		log.Fatalf("initialization failed: %v", r)
	}

	fmt.Println("\n=============================================")
	fmt.Println(" Step 2: Device identity")
	fmt.Println("=============================================")
	fmt.Printf("IMEI:             %s\n", session.GetImei())
	fmt.Printf("Protocol version: %s\n", session.GetCardVersion())

	fmt.Println("\n=============================================")
	fmt.Println(" Step 3: Slot inventory")
	fmt.Println("=============================================")
	for slot := 1; slot <= session.SlotCount(); slot++ {
		fmt.Printf("Slot %d: %-22s", slot, session.SlotStateOf(slot))
		if eid := session.GetEidForSlot(slot); eid != "" {
			fmt.Printf(" EID %s", eid)
		}
		fmt.Println()
	}

	fmt.Println("\n>> Demo Finished Successfully")
}

// =========================================================================
// PC/SC fallback
// =========================================================================

func runPcsc() {
	fmt.Println("=============================================")
	fmt.Println(" Step 1: Connect to PC/SC reader")
	fmt.Println("=============================================")

	conn, reader, err := pcsc.Connect()
	if err != nil {
		log.Fatalf("Error connecting: %s", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("Warning: failed to close reader: %v", err)
		}
	}()
	fmt.Printf(">> Using reader: %s\n", reader)

	client := pcsc.NewClient(conn)
	cls, _ := apdu.NewClass(0x00)

	fmt.Println("\n=============================================")
	fmt.Println(" Step 2: SELECT ISD-R")
	fmt.Println("=============================================")

	isdr := tlv.Hex("A0000005591010FFFFFFFF8900000100")
	sel := apdu.NewCommand(cls, apdu.INS_SELECT, 0x04, 0x00, isdr, apdu.MaxShortLe)
	resp, err := client.Send(sel)
	if err != nil {
		log.Fatalf("SELECT failed: %s", err)
	}
	if !resp.SW.IsSuccess() {
		log.Fatalf("SELECT rejected with status: %s", resp.SW)
	}
	fmt.Printf(">> Selected, FCI %d bytes\n", len(resp.Data))

	fmt.Println("\n=============================================")
	fmt.Println(" Step 3: GET DATA (EID)")
	fmt.Println("=============================================")

	get := apdu.NewCommand(cls, apdu.INS_GET_DATA, 0xBF, 0x3E, nil, apdu.MaxShortLe)
	resp, err = client.Send(get)
	if err != nil {
		log.Fatalf("GET DATA failed: %s", err)
	}
	if !resp.SW.IsSuccess() {
		log.Fatalf("GET DATA rejected with status: %s", resp.SW)
	}

	envelope, err := tlv.GetValue(resp.Data, "BF3E")
	if err != nil {
		log.Fatalf("No EID envelope in response: %s", err)
	}
	eid, err := tlv.GetValue(envelope, "5A")
	if err != nil {
		log.Fatalf("No EID object in envelope: %s", err)
	}
	fmt.Printf(">> EID: %s\n", hex.EncodeToString(eid))

	fmt.Println("\n>> Demo Finished Successfully")
}
