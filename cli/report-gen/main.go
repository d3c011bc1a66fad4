package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/towfleet/tracking/cli/tracker/model"
)

/*
Location report generator.

Util sends simulated position reports to a running tracker instance.

Usage:
  -vehicle string
    	Vehicle identifier (require)
  -dispatch string
    	Dispatch identifier to tag reports with
  -lat float
    	Starting latitude
  -lon float
    	Starting longitude
  -speed float
    	Reported speed in km/h
  -count int
    	Number of reports to send, Default: 1
  -interval int
    	Pause between reports in milliseconds, Default: 1000
  -server string
    	Tracker address in format http://<ip>:<port> (default "http://localhost:8080")

Example

```
./report-gen --vehicle truck-1 --dispatch disp-1 --lat 37.75 --lon -122.45 --speed 40 --count 10
```
*/

func main() {
	vehicle := ""
	dispatch := ""
	lat := 0.0
	lon := 0.0
	speed := 0.0
	count := 0
	interval := 0
	server := ""

	flag.StringVar(&vehicle, "vehicle", "", "Vehicle identifier (require)")
	flag.StringVar(&dispatch, "dispatch", "", "Dispatch identifier to tag reports with")
	flag.Float64Var(&lat, "lat", 37.75, "Starting latitude")
	flag.Float64Var(&lon, "lon", -122.45, "Starting longitude")
	flag.Float64Var(&speed, "speed", 40, "Reported speed in km/h")
	flag.IntVar(&count, "count", 1, "Number of reports to send")
	flag.IntVar(&interval, "interval", 1000, "Pause between reports in milliseconds")
	flag.StringVar(&server, "server", "http://localhost:8080", "Tracker address in format http://<ip>:<port>")

	flag.Parse()

	if vehicle == "" {
		fmt.Println("Vehicle identifier is required, see help (-h)")
		os.Exit(1)
	}
	if count < 1 {
		count = 1
	}

	// Rough walk: convert the speed and interval into a degree step and
	// wander in a random direction each tick.
	stepKm := speed / 3.6 * float64(interval) / 1000 / 1000
	stepDeg := stepKm / 111

	client := &http.Client{Timeout: 5 * time.Second}

	for i := 0; i < count; i++ {
		report := model.LocationReport{
			VehicleID:  vehicle,
			DispatchID: dispatch,
			Latitude:   lat,
			Longitude:  lon,
			Speed:      speed,
			Timestamp:  time.Now().UnixMilli(),
		}

		body, err := json.Marshal(&report)
		if err != nil {
			fmt.Println("Failed to encode report: ", err)
			os.Exit(1)
		}

		resp, err := client.Post(server+"/tracking/location", "application/json", bytes.NewReader(body))
		if err != nil {
			fmt.Println("Failed to reach the server: ", err)
			os.Exit(1)
		}

		var result struct {
			Success bool `json:"success"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			fmt.Println("Failed to decode server response: ", err)
			resp.Body.Close()
			os.Exit(1)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK || !result.Success {
			fmt.Printf("Report %d rejected: status %d\n", i+1, resp.StatusCode)
			os.Exit(1)
		}

		heading := rand.Float64() * 2 * math.Pi
		lat += stepDeg * math.Cos(heading)
		lon += stepDeg * math.Sin(heading)

		if i < count-1 {
			time.Sleep(time.Duration(interval) * time.Millisecond)
		}
	}

	fmt.Printf("Sent %d reports, all accepted by the server\n", count)
	os.Exit(0)
}
