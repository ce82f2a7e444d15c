// Command pzem-cli is an interactive single-bus console: it opens one
// serial port (or a simulated one with -sim), attaches one meter, and
// prints its metrics on every poll until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appLog "github.com/vortigont/pzem-edl/internal/log"
	"github.com/vortigont/pzem-edl/pkg/pzem"
	"github.com/vortigont/pzem-edl/pkg/transport"
)

func main() {
	var (
		device  = flag.String("device", "/dev/ttyUSB0", "serial device path")
		addr    = flag.Uint("addr", uint(pzem.AddrAny), "meter slave address")
		family  = flag.String("family", "ac", "meter family: ac or dc")
		period  = flag.Duration("period", time.Second, "poll period")
		sim     = flag.Bool("sim", false, "use a simulated meter instead of a real serial port")
		version = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println(versioninfo.Short())
		return
	}

	logger, err := appLog.NewLogger(zapcore.InfoLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *sim {
		runSimulated(ctx, logger, *family, byte(*addr), *period)
		return
	}

	line, err := transport.OpenSerial(transport.DefaultSerialConfig(*device))
	if err != nil {
		logger.Fatal("open serial", zap.Error(err))
	}
	defer line.Close()

	port := transport.New(line, logger)
	port.Start(ctx)
	defer port.Stop()

	meter := newMeter(*family, byte(*addr), logger)
	meter.AttachPort(port, false)
	meter.SetCallback(func(m *pzem.Meter, err error) {
		if err != nil {
			logger.Warn("update failed", zap.Error(err))
			return
		}
		printMetrics(m)
	})
	meter.SetPollPeriod(*period)
	meter.Autopoll(true)
	defer meter.Autopoll(false)

	<-ctx.Done()
	logger.Info("shutting down")
}

func runSimulated(ctx context.Context, logger *zap.Logger, family string, addr byte, period time.Duration) {
	f := pzem.FamilyAC
	bounds := pzem.DefaultACSimBounds()
	if family == "dc" {
		f = pzem.FamilyDC
		bounds = pzem.DefaultDCSimBounds()
	}
	sim := pzem.NewSimMeter(f, addr, bounds, time.Now().UnixNano())
	sim.SetCallback(func(*pzem.Meter, error) {
		m := sim.GetMetrics()
		logger.Info("metrics", zap.Float64("voltage", m.Voltage()), zap.Float64("current", m.Current()), zap.Float64("power", m.Power()))
	})
	sim.Autopoll(period)
	defer sim.Stop()
	<-ctx.Done()
}

func newMeter(family string, addr byte, logger *zap.Logger) *pzem.Meter {
	if family == "dc" {
		return pzem.NewDCMeter(addr, logger)
	}
	return pzem.NewACMeter(addr, logger)
}

func printMetrics(m *pzem.Meter) {
	metrics := m.GetMetrics()
	if metrics == nil {
		return
	}
	fmt.Printf("addr=0x%02x voltage=%.1fV current=%.3fA power=%.1fW energy=%.0fWh\n",
		m.Addr(), metrics.Voltage(), metrics.Current(), metrics.Power(), metrics.Energy())
	_ = os.Stdout.Sync()
}
