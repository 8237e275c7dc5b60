// Package monitoring turns a running memory system into a web server that
// external tools can inspect and drive.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/sarchlab/cowvm/mem/vm"
	"github.com/sarchlab/cowvm/mem/vm/driver"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor serves the state of a Driver over HTTP.
type Monitor struct {
	driver          *driver.Driver
	portNumber      int
	profileDuration time.Duration

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor(d *driver.Driver) *Monitor {
	return &Monitor{
		driver:          d,
		profileDuration: time.Second,
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler of all the monitoring APIs.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/processes", m.listProcesses).Methods(http.MethodGet)
	r.HandleFunc("/api/pagetable/{pid}", m.pageTable).Methods(http.MethodGet)
	r.HandleFunc("/api/process/{pid}", m.processDetails).
		Methods(http.MethodGet)
	r.HandleFunc("/api/stats", m.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/access/{kind}/{vpn}", m.access).
		Methods(http.MethodPost)
	r.HandleFunc("/api/switch/{pid}", m.switchTo).Methods(http.MethodPost)
	r.HandleFunc("/api/progress", m.listProgressBars).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)

	return r
}

// StartServer starts the monitor as a web server in the background and
// returns its URL.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	router := m.Router()
	go func() {
		err := http.Serve(listener, router)
		dieOnErr(err)
	}()

	return url, nil
}

type processesRsp struct {
	Current    vm.PID   `json:"current"`
	ReadyQueue []vm.PID `json:"ready_queue"`
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	s := m.driver.Snapshot()

	writeJSON(w, processesRsp{
		Current:    s.Current,
		ReadyQueue: s.ReadyQueue,
	})
}

func (m *Monitor) pageTable(w http.ResponseWriter, r *http.Request) {
	p, ok := m.findProcessOr404(w, r)
	if !ok {
		return
	}

	if p.Mappings == nil {
		p.Mappings = []vm.Mapping{}
	}

	writeJSON(w, p.Mappings)
}

func (m *Monitor) processDetails(w http.ResponseWriter, r *http.Request) {
	p, ok := m.findProcessOr404(w, r)
	if !ok {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&p)
	serializer.SetMaxDepth(3)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.driver.Stats())
}

func (m *Monitor) access(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var access vm.AccessType
	switch vars["kind"] {
	case "read":
		access = vm.Read
	case "write":
		access = vm.Write
	default:
		http.Error(w, "kind must be read or write", http.StatusBadRequest)
		return
	}

	vpn, err := strconv.ParseUint(vars["vpn"], 10, 32)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t, err := m.driver.Access(access, vm.VPN(vpn))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, t)
}

type switchRsp struct {
	From    vm.PID `json:"from"`
	Current vm.PID `json:"current"`
	Forked  bool   `json:"forked"`
}

func (m *Monitor) switchTo(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.ParseUint(mux.Vars(r)["pid"], 10, 32)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	event := m.driver.SwitchTo(vm.PID(pid))

	writeJSON(w, switchRsp{
		From:    event.From,
		Current: event.To,
		Forked:  event.Forked,
	})
}

func (m *Monitor) findProcessOr404(
	w http.ResponseWriter,
	r *http.Request,
) (driver.ProcessSnapshot, bool) {
	pid, err := strconv.ParseUint(mux.Vars(r)["pid"], 10, 32)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return driver.ProcessSnapshot{}, false
	}

	p, found := m.driver.ProcessSnapshot(vm.PID(pid))
	if !found {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Process %d not found", pid)

		return driver.ProcessSnapshot{}, false
	}

	return p, true
}

type progressBarRsp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Total     uint64    `json:"total"`
	Finished  uint64    `json:"finished"`
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	rsp := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		finished, total := b.Progress()
		rsp = append(rsp, progressBarRsp{
			ID:        b.ID,
			Name:      b.Name,
			StartTime: b.StartTime,
			Total:     total,
			Finished:  finished,
		})
	}

	writeJSON(w, rsp)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
