package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/analysis"
	"github.com/MIMAOC/packaging-machine-maste-sub000/calibrate"
	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/MIMAOC/packaging-machine-maste-sub000/monitor"
	"github.com/MIMAOC/packaging-machine-maste-sub000/plc"
	"github.com/MIMAOC/packaging-machine-maste-sub000/sim"
	"github.com/MIMAOC/packaging-machine-maste-sub000/storage"
)

var (
	plcAddr    string
	unitID     int
	apiURL     string
	material   string
	target     float64
	store      string
	journal    bool
	simulated  bool
	debug      bool
	starve     float64
	configFile string
	cpuProfile string
	memProfile string
)

func usage() {
	flag.PrintDefaults()
}

func init() {
	flag.StringVar(&plcAddr, "plc", "", "the PLC Modbus/TCP address, host:port")
	flag.IntVar(&unitID, "unit", 0, "the Modbus unit id of the PLC")
	flag.StringVar(&apiURL, "api", "", "the base URL of the analysis service")
	flag.StringVar(&material, "material", "default", "the material name for the learned store")
	flag.Float64Var(&target, "target", 100, "the target weight in grams")
	flag.StringVar(&store, "store", "", "the learned-parameter store (memory, mongo, or sql)")
	flag.BoolVar(&journal, "journal", false, "write every trial to the on-disk journal")
	flag.BoolVar(&simulated, "sim", false, "run against the simulated device instead of real hardware")
	flag.BoolVar(&debug, "debug", false, "log debug info into debug file")
	flag.Float64Var(&starve, "starve", 0, "override the starvation threshold in grams, 0 keeps the default")
	flag.StringVar(&configFile, "config", "", "the properties file to load before flags apply")
	flag.StringVar(&cpuProfile, "cpu_prof", "", "write cpu profiling")
	flag.StringVar(&memProfile, "mem_prof", "", "write memory profiling")
	flag.Usage = usage
}

func main() {
	flag.Parse()
	if configFile != "" {
		if err := configs.LoadProperties(configFile); err != nil {
			log.Fatalf("error loading properties: %v", err)
		}
	}
	if debug {
		f, err := os.OpenFile(fmt.Sprintf("logs/logfiles_%v.log", time.Now().String()), os.O_RDWR|os.O_CREATE, 0666)
		defer f.Close()
		if err != nil {
			log.Fatalf("error opening file: %v", err)
		}
		log.SetOutput(io.Writer(f))
		configs.ShowDebugInfo = true
		configs.ShowWarnings = true
	}
	if configs.TraceFile {
		traceFile, err := os.OpenFile(fmt.Sprintf("logs/trace_%v.log", time.Now().String()), os.O_RDWR|os.O_CREATE, 0666)
		if err != nil {
			log.Fatalf("error opening file: %v", err)
		}
		defer traceFile.Close()
		err = trace.Start(traceFile)
		if err != nil {
			panic(err)
		}
		defer trace.Stop()
	}
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	if plcAddr != "" {
		configs.PLCAddress = plcAddr
	}
	if unitID > 0 {
		configs.PLCUnitID = byte(unitID)
	}
	if apiURL != "" {
		configs.AnalysisBaseURL = apiURL
	}
	if store != "" {
		configs.SetStore(store)
	}
	if starve > 0 {
		configs.StarvationThreshold = starve
	}
	configs.UseJournal = configs.UseJournal || journal

	var bus plc.Bus
	if simulated {
		device := sim.NewDevice()
		stop := make(chan struct{})
		defer close(stop)
		go device.Run(stop, configs.MonitorTickInterval/2)
		bus = device
	} else {
		transport := plc.NewTransport(configs.PLCAddress, configs.PLCUnitID)
		if err := transport.Connect(); err != nil {
			log.Fatalf("cannot reach the PLC: %v", err)
		}
		defer func() { configs.CheckError(transport.Disconnect()) }()
		bus = transport
	}

	cmd := plc.NewCommander(bus, nil)
	engine := monitor.NewEngine(bus, cmd)
	engine.SetStarvationCheck(true)
	engine.Start()
	defer engine.Stop()

	client := analysis.NewClient(configs.AnalysisBaseURL)
	if err := client.Health(); err != nil {
		log.Fatalf("analysis service is not healthy: %v", err)
	}

	paramStore, err := storage.NewStore()
	if err != nil {
		log.Fatalf("cannot open the learned store: %v", err)
	}
	defer func() { configs.CheckError(paramStore.Close()) }()
	trialJournal := storage.NewJournal()
	defer trialJournal.Close()

	done := make(chan struct{})
	events := &calibrate.EventFuncs{
		BucketCompleted: func(hopper int, success bool, message string) {
			log.Printf("bucket %d completed a stage: %s", hopper, message)
		},
		BucketFailed: func(hopper int, reason string, stage string) {
			log.Printf("bucket %d failed in %s: %s", hopper, stage, reason)
		},
		ProgressUpdate: func(hopper int, attempt int, maxAttempts int, message string) {
			configs.BPrintf(hopper, "[%d/%d] %s", attempt, maxAttempts, message)
		},
		LogMessage: func(message string) {
			log.Println(message)
		},
		Starvation: func(hopper int, stage string, isProduction bool) {
			log.Printf("bucket %d ran out of material during %s", hopper, stage)
		},
		AllCompleted: func(snapshot map[int]map[string]*calibrate.BucketStageState) {
			close(done)
		},
	}

	session := calibrate.NewSession(calibrate.Deps{
		Bus:       bus,
		Commander: cmd,
		Engine:    engine,
		Analysis:  client,
		Store:     paramStore,
		Journal:   trialJournal,
		Events:    events,
	})
	if err := session.Start(material, target); err != nil {
		log.Fatalf("cannot start calibration: %v", err)
	}
	<-done
	session.Stop()

	successes, failures, total := session.Matrix().Counts()
	log.Printf("calibration finished in %v: %d of %d hoppers calibrated, %d failed",
		session.Stat().Elapsed(), successes, total, failures)

	if memProfile != "" {
		f, err := os.Create(memProfile)
		if err != nil {
			log.Fatal("could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}
