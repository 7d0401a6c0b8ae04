package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/airq/airlog/bitio"
	"github.com/airq/airlog/monitor"
	"github.com/airq/airlog/sds011"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "airlog.yml"

	// APIKeyEnvVar names the environment variable holding the bit.io API key
	APIKeyEnvVar = "BITIO_API_KEY"

	k = koanf.New(".")
)

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func setupconfig() {
	k.Load(structs.Provider(monitor.Config{
		UploadIntervalSeconds: 60,
		SampleCount:           1,
		ScaleFactor:           sds011.DefaultScale,
		DBHost:                "db.bit.io",
		DBPort:                5432}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `airlog reads an SDS011 particulate matter sensor on a serial port
and logs each measurement to a cloud Postgres table on bit.io.

Usage:
	airlog <command>

Commands:
	run
	probe
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `airlog is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Run "airlog mkconf" to write a starter config to ` + ConfigFileName + `,
then fill in the sensor port, record metadata, and upload target.

The API key is never stored in the config file.  Export it as ` + APIKeyEnvVar + `
or place it in a .env file next to the binary.

Commands:
	run      start the logging loop; stops cleanly on SIGINT/SIGTERM
	probe    read and print one measurement, no upload
	mkconf   write the current configuration to ` + ConfigFileName + `
	conf     print the current configuration
	version  print the version`
	fmt.Println(str)
}

func mkconf() {
	c := monitor.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := monitor.Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("airlog version %v\n", Version)
}

// loadcfg unmarshals and validates the config, fatally on any error.
// Startup is the only place configuration problems are allowed to kill the
// process.
func loadcfg() monitor.Config {
	c := monitor.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = c.Validate()
	if err != nil {
		log.Fatal(err)
	}
	return c
}

// apikey pulls the bit.io key from the environment, loading .env first the
// way the rest of the fleet's loggers do
func apikey() string {
	godotenv.Load() // missing .env is fine, the var may be exported directly
	key := os.Getenv(APIKeyEnvVar)
	if key == "" {
		log.Fatalf("%s is not set; export it or add it to .env", APIKeyEnvVar)
	}
	return key
}

func run() {
	c := loadcfg()
	key := apikey()

	sens := sds011.New(c.PortDevice)
	if err := sens.Open(); err != nil {
		log.Fatal(err)
	}
	defer sens.Close()

	ctx := context.Background()
	up, err := bitio.Connect(ctx, bitio.Config{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.RepoOwner,
		Database: c.RepoOwner + "/" + c.RepoName,
		APIKey:   key,
	}, bitio.QualifiedTable(c.RepoOwner, c.RepoName, c.TableName))
	if err != nil {
		log.Fatal(err)
	}
	defer up.Close()

	mon, err := monitor.New(c, sens, up)
	if err != nil {
		log.Fatal(err)
	}
	mon.Start()
	log.Infof("airlog started, uploading every %v from %s", c.Interval(), c.PortDevice)

	if c.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Error(http.ListenAndServe(c.MetricsAddr, nil))
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	mon.Stop()
	log.Info("airlog stopped")
}

func probe() {
	c := loadcfg()

	sens := sds011.New(c.PortDevice)
	if err := sens.Open(); err != nil {
		log.Fatal(err)
	}
	defer sens.Close()

	spinner, err := yacspin.New(yacspin.Config{
		Frequency: 100 * time.Millisecond,
		CharSet:   yacspin.CharSets[59],
		Suffix:    " waiting for sensor"})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	frame, err := sens.ReadFrame()
	spinner.Stop()
	if err != nil {
		log.Fatal(err)
	}
	dec, err := sds011.NewDecoder(c.ScaleFactor)
	if err != nil {
		log.Fatal(err)
	}
	pt, err := dec.Decode(frame)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("device %04X  PM2.5 %.1f µg/m³  PM10 %.1f µg/m³\n", pt.DeviceID, pt.PM25, pt.PM10)
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "probe":
		probe()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
