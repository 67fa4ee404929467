package main

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fako1024/cgmbridge/pkg/appgroup"
	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"
	"github.com/spf13/cobra"
)

const maxPublishedReadings = 24

var putReadingCmd = &cobra.Command{
	Use:   "put-reading",
	Short: "Publish a new reading like the companion app",
	Args:  cobra.NoArgs,
	RunE:  runPutReading,
}

var setIdentityCmd = &cobra.Command{
	Use:   "set-identity",
	Short: "Publish the transmitter identity like the companion app (omit all flags to unpair)",
	Args:  cobra.NoArgs,
	RunE:  runSetIdentity,
}

var (
	putValue float64
	putTrend int
	putAge   time.Duration

	setAddress     string
	setService     string
	setReceiveChar string
)

func init() {
	putReadingCmd.Flags().Float64VarP(&putValue, "value", "v", 0, "glucose concentration (mg/dL)")
	putReadingCmd.Flags().IntVarP(&putTrend, "trend", "t", int(glucose.TrendFlat), "trend code (1: rising rapidly ... 7: falling rapidly)")
	putReadingCmd.Flags().DurationVarP(&putAge, "age", "a", 0, "age of the reading")
	_ = putReadingCmd.MarkFlagRequired("value")

	setIdentityCmd.Flags().StringVar(&setAddress, "address", "", "transmitter address (MAC on Linux, UUID on OS X)")
	setIdentityCmd.Flags().StringVar(&setService, "service", "", "service UUID")
	setIdentityCmd.Flags().StringVar(&setReceiveChar, "receive", "", "receive characteristic UUID")
}

func runPutReading(cmd *cobra.Command, _ []string) (err error) {
	trend, err := glucose.ParseTrend(int64(putTrend))
	if err != nil {
		return err
	}

	store, src, err := openStore(cmd, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	readings, err := appgroup.New(store).FetchReadings()
	if err != nil && !errors.Is(err, appgroup.ErrNotFound) {
		return err
	}

	reading := glucose.Reading{
		Value:     putValue,
		Trend:     trend,
		Timestamp: time.Now().Add(-putAge).Truncate(time.Millisecond),
		Source:    src,
	}
	readings = append(readings, reading)

	// Newest first, as published by the companion app
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.After(readings[j].Timestamp)
	})
	if len(readings) > maxPublishedReadings {
		readings = readings[:maxPublishedReadings]
	}

	if err := appgroup.WriteReadings(store, readings); err != nil {
		return err
	}
	fmt.Printf("published %s (%d reading(s) in store)\n", green(reading), len(readings))

	return nil
}

func runSetIdentity(cmd *cobra.Command, _ []string) (err error) {
	id := heartbeat.Identity{
		Address:               setAddress,
		ServiceUUID:           setService,
		ReceiveCharacteristic: setReceiveChar,
	}
	if !id.IsZero() {
		if err := id.Validate(); err != nil {
			return err
		}
	}

	store, _, err := openStore(cmd, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := appgroup.WriteIdentity(store, id); err != nil {
		return err
	}
	if id.IsZero() {
		fmt.Println(yellow("transmitter identity cleared"))
	} else {
		fmt.Printf("published transmitter identity %s\n", green(id))
	}

	return nil
}
