package main

import (
	"fmt"
	"time"

	"github.com/fako1024/cgmbridge/pkg/appgroup"
	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/spf13/cobra"
)

var readingsCmd = &cobra.Command{
	Use:   "readings",
	Short: "Print the readings published by the companion app",
	Args:  cobra.NoArgs,
	RunE:  runReadings,
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Print the transmitter identity published by the companion app",
	Args:  cobra.NoArgs,
	RunE:  runIdentity,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously print the valid readings published by the companion app",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var watchInterval time.Duration

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 30*time.Second, "poll interval")
}

func runReadings(cmd *cobra.Command, _ []string) (err error) {
	store, src, err := openStore(cmd, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	readings, err := appgroup.New(store, appgroup.WithSource(src)).FetchReadings()
	if err != nil {
		return err
	}

	printReadings(readings)
	return nil
}

func runIdentity(cmd *cobra.Command, _ []string) (err error) {
	store, _, err := openStore(cmd, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	id, err := appgroup.New(store).Identity()
	if err != nil {
		return err
	}
	if id.IsZero() {
		fmt.Println(yellow("no transmitter known"))
		return nil
	}

	fmt.Printf("address:                %s\n", cyan(id.Address))
	fmt.Printf("service UUID:           %s\n", id.ServiceUUID)
	fmt.Printf("receive characteristic: %s\n", id.ReceiveCharacteristic)
	fmt.Printf("restore identifier:     %s\n", id.RestoreIdentifier())

	return nil
}

func runWatch(cmd *cobra.Command, _ []string) (err error) {
	store, src, err := openStore(cmd, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var latest time.Time
	for update := range appgroup.New(store, appgroup.WithSource(src)).LatestReadings(cmd.Context(), watchInterval) {
		if update.Err != nil {
			fmt.Printf("%s %s\n", time.Now().Format(time.TimeOnly), red(update.Err))
			continue
		}

		newReadings := update.Readings.Since(latest)
		if r, ok := newReadings.Latest(); ok {
			latest = r.Timestamp
		}
		printReadings(newReadings)
	}

	return nil
}

func printReadings(readings glucose.Readings) {
	if len(readings) == 0 {
		fmt.Println(yellow("no readings"))
		return
	}

	for _, r := range readings {
		value := green(fmt.Sprintf("%3.0f mg/dL", r.Value))
		if !r.IsValid() {
			value = red(fmt.Sprintf("%3.0f mg/dL", r.Value))
		}
		fmt.Printf("%s  %s  %-14s  %s  %s\n",
			r.Timestamp.Local().Format(time.DateTime), value, r.Trend, r.Sample().SyncIdentifier, cyan(r.Source))
	}
}
