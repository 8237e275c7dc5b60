package monitoring

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cowvm/mem/vm"
	"github.com/sarchlab/cowvm/mem/vm/driver"
)

var _ = Describe("Monitor", func() {
	var (
		d      *driver.Driver
		m      *Monitor
		server *httptest.Server
	)

	BeforeEach(func() {
		d = driver.MakeBuilder().WithInitialPID(1).Build()
		m = NewMonitor(d)
		m.profileDuration = 10 * time.Millisecond
		server = httptest.NewServer(m.Router())
	})

	AfterEach(func() {
		server.Close()
	})

	get := func(path string, v any) int {
		rsp, err := http.Get(server.URL + path)
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()

		if v != nil && rsp.StatusCode == http.StatusOK {
			Expect(json.NewDecoder(rsp.Body).Decode(v)).To(Succeed())
		}

		return rsp.StatusCode
	}

	post := func(path string, v any) int {
		rsp, err := http.Post(server.URL+path, "", nil)
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()

		if v != nil && rsp.StatusCode == http.StatusOK {
			Expect(json.NewDecoder(rsp.Body).Decode(v)).To(Succeed())
		}

		return rsp.StatusCode
	}

	It("should list processes", func() {
		d.SwitchTo(2)

		var rsp processesRsp
		Expect(get("/api/processes", &rsp)).To(Equal(http.StatusOK))

		Expect(rsp.Current).To(Equal(vm.PID(2)))
		Expect(rsp.ReadyQueue).To(Equal([]vm.PID{1}))
	})

	It("should show page tables", func() {
		_, err := d.Write(7)
		Expect(err).NotTo(HaveOccurred())

		var mappings []vm.Mapping
		Expect(get("/api/pagetable/1", &mappings)).To(Equal(http.StatusOK))
		Expect(mappings).To(Equal([]vm.Mapping{
			{VPN: 7, PFN: 0, Writable: true},
		}))
	})

	It("should return an empty page table as a list", func() {
		rsp, err := http.Get(server.URL + "/api/pagetable/1")
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()

		var raw json.RawMessage
		Expect(json.NewDecoder(rsp.Body).Decode(&raw)).To(Succeed())
		Expect(string(raw)).To(Equal("[]"))
	})

	It("should 404 unknown processes", func() {
		Expect(get("/api/pagetable/5", nil)).To(Equal(http.StatusNotFound))
		Expect(get("/api/process/5", nil)).To(Equal(http.StatusNotFound))
	})

	It("should reject malformed pids", func() {
		Expect(get("/api/pagetable/abc", nil)).
			To(Equal(http.StatusBadRequest))
	})

	It("should serialize a process", func() {
		_, err := d.Write(3)
		Expect(err).NotTo(HaveOccurred())

		rsp, err := http.Get(server.URL + "/api/process/1")
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()

		Expect(rsp.StatusCode).To(Equal(http.StatusOK))
		body, err := io.ReadAll(rsp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(body).NotTo(BeEmpty())
	})

	It("should perform accesses", func() {
		var rsp driver.Translation
		Expect(post("/api/access/write/16", &rsp)).To(Equal(http.StatusOK))
		Expect(rsp).To(Equal(driver.Translation{PID: 1, VPN: 16, PFN: 0}))

		Expect(post("/api/access/read/16", &rsp)).To(Equal(http.StatusOK))
		Expect(rsp.PFN).To(Equal(vm.PFN(0)))

		var stats driver.Stats
		Expect(get("/api/stats", &stats)).To(Equal(http.StatusOK))
		Expect(stats.Accesses).To(Equal(uint64(2)))
		Expect(stats.Faults).To(Equal(uint64(1)))
	})

	It("should reject bad accesses", func() {
		Expect(post("/api/access/exec/1", nil)).
			To(Equal(http.StatusBadRequest))
		Expect(post("/api/access/read/x", nil)).
			To(Equal(http.StatusBadRequest))
		Expect(post("/api/access/read/0x10", nil)).
			To(Equal(http.StatusBadRequest))
		Expect(post("/api/access/read/256", nil)).
			To(Equal(http.StatusUnprocessableEntity))
	})

	It("should only accept posts for actions", func() {
		Expect(get("/api/switch/2", nil)).
			To(Equal(http.StatusMethodNotAllowed))
	})

	It("should switch processes", func() {
		var rsp switchRsp
		Expect(post("/api/switch/4", &rsp)).To(Equal(http.StatusOK))
		Expect(rsp).To(Equal(switchRsp{From: 1, Current: 4, Forked: true}))

		Expect(post("/api/switch/1", &rsp)).To(Equal(http.StatusOK))
		Expect(rsp).To(Equal(switchRsp{From: 4, Current: 1, Forked: false}))
		Expect(d.CurrentPID()).To(Equal(vm.PID(1)))
	})

	It("should list progress bars", func() {
		bar := m.CreateProgressBar("script", 10)
		bar.IncrementFinished(3)
		other := m.CreateProgressBar("other", 1)

		var rsp []progressBarRsp
		Expect(get("/api/progress", &rsp)).To(Equal(http.StatusOK))
		Expect(rsp).To(HaveLen(2))
		Expect(rsp[0].Name).To(Equal("script"))
		Expect(rsp[0].Finished).To(Equal(uint64(3)))
		Expect(rsp[0].Total).To(Equal(uint64(10)))

		m.CompleteProgressBar(other)
		Expect(get("/api/progress", &rsp)).To(Equal(http.StatusOK))
		Expect(rsp).To(HaveLen(1))
	})

	It("should report resources", func() {
		var rsp resourceRsp
		Expect(get("/api/resource", &rsp)).To(Equal(http.StatusOK))
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should collect a profile", func() {
		Expect(get("/api/profile", nil)).To(Equal(http.StatusOK))
	})

	It("should fall back to a random port for low port numbers", func() {
		Expect(m.WithPortNumber(80).portNumber).To(Equal(0))
		Expect(m.WithPortNumber(8080).portNumber).To(Equal(8080))
	})
})
