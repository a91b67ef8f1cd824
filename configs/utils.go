package configs

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// BPrintf prints a debug line tagged with the bucket it concerns.
func BPrintf(hopper int, format string, a ...interface{}) {
	if ShowDebugInfo {
		if !LogToFile {
			fmt.Printf(time.Now().Format("15:04:05.00")+" <---> "+"BUCKET"+strconv.Itoa(hopper)+": "+format+"\n", a...)
		} else {
			log.Printf(time.Now().Format("15:04:05.00")+" <---> "+"BUCKET"+strconv.Itoa(hopper)+": "+format+"\n", a...)
		}
	}
}

func DPrintf(format string, a ...interface{}) {
	if ShowDebugInfo {
		if !LogToFile {
			fmt.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		} else {
			log.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		}
	}
}

func TPrintf(format string, a ...interface{}) {
	if ShowTestInfo {
		if !LogToFile {
			fmt.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		} else {
			log.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		}
	}
}

// TimeTrack logs the time cost of a step for one bucket.
func TimeTrack(start time.Time, name string, hopper int) {
	TPrintf("BUCKET" + strconv.Itoa(hopper) + ": Time cost for " + name + " : " + time.Since(start).String())
}

// TimeLoad stores the time elapsed since start into latency.
func TimeLoad(start time.Time, name string, hopper int, latency *time.Duration) {
	if latency == nil || start.IsZero() {
		return
	}
	*latency = time.Since(start)
	TPrintf("BUCKET" + strconv.Itoa(hopper) + ": Time cost for " + name + " : " + (*latency).String())
}

func JToString(v interface{}) string {
	byt, _ := json.Marshal(v)
	return string(byt)
}

func JPrint(v interface{}) {
	byt, _ := json.Marshal(v)
	fmt.Println(string(byt))
}

func Assert(cond bool, msg string) bool {
	if !cond {
		panic("[ERROR] Assert error at " + msg + "\n")
	}
	return cond
}

func Warn(cond bool, msg string) bool {
	if ShowWarnings && !cond {
		if !LogToFile {
			fmt.Printf("[WARNNING] :" + msg + "\n")
		} else {
			log.Printf("[WARNNING] :" + msg + "\n")
		}
	}
	return cond
}

func CheckError(err error) {
	if err != nil {
		panic(err.Error())
	}
}

func Max(x int, y int) int {
	if x > y {
		return x
	}
	return y
}

func Min(x int, y int) int {
	if x < y {
		return x
	}
	return y
}
