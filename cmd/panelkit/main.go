package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"

	"github.com/hubertat/panelkit"
)

var (
	Version string
	Build   string

	config      = flag.String("config", "config.json", "path of the configuration file")
	flagInstall = flag.Bool("install", false, "install systemd service in os")
	flagLogin   = flag.Bool("login", false, "run the interactive cloud login and exit")
	flagDebug   = flag.Bool("debug", false, "verbose logging")

	pkService = servicemaker.ServiceMaker{
		User:               "panelkit",
		ServicePath:        "/etc/systemd/system/panelkit.service",
		ServiceDescription: "PanelKit service: Basis smart panel bridge for HomeKit and MQTT. github.com/hubertat",
		ExecDir:            "/srv/panelkit",
		ExecName:           "panelkit",
	}
)

func main() {
	flag.Parse()

	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}
	if len(Version) < 1 {
		Version = "dev"
	}
	log.Info("panelkit starting", "version", Version, "build", Build)

	if *flagInstall {
		err := pkService.InstallService()
		if err != nil {
			log.Fatal("service install failed", "error", err)
		}
		log.Info("service installed!")
		return
	}

	pk := &panelkit.PanelKit{}
	configFile, err := os.Open(*config)
	if err != nil {
		log.Fatal("can't find/open config file", "path", *config, "error", err)
	}
	cBuff, err := io.ReadAll(configFile)
	configFile.Close()
	if err != nil {
		log.Fatal("failed reading config file", "error", err)
	}
	if err = json.Unmarshal(cBuff, pk); err != nil {
		log.Fatal("failed unmarshalling json config", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *flagLogin {
		sess, err := pk.NewSession()
		if err != nil {
			log.Fatal("login failed", "error", err)
		}
		if err := sess.Login(ctx); err != nil {
			log.Fatal("login failed", "error", err)
		}
		log.Info("login complete, start the service without -login now")
		return
	}

	if err = pk.Init(Version); err != nil {
		log.Fatal("init failed", "error", err)
	}
	defer pk.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		signal.Stop(sig)
		cancel()
	}()

	if err = pk.Run(ctx); err != nil {
		log.Fatal("run failed", "error", err)
	}
	log.Info("panelkit stopped")
}
