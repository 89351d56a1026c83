package integration

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/stacklok/seqci-proxy/internal/engine"
	"github.com/stacklok/seqci-proxy/internal/engine/enginetest"
	"github.com/stacklok/seqci-proxy/test-integration/seqci-proxy/helpers"
)

const chainIDRequest = `{"jsonrpc":"2.0","id":1,"method":"starknet_chainId","params":[]}`

var _ = Describe("Sequencer proxy", func() {
	var (
		server *helpers.ServerTestHelper
		reveal bool
	)

	JustBeforeEach(func() {
		tempDir := GinkgoT().TempDir()
		portMin := 43000 + GinkgoParallelProcess()*500
		configPath := helpers.WriteConfigYAML(tempDir, helpers.ConfigOptions{
			PortMin:                portMin,
			PortMax:                portMin + 499,
			RevealForeignInstances: reveal,
		})

		server = helpers.NewServerTestHelper(ctx, configPath, helpers.FreePort())
		Expect(server.StartServer()).To(Succeed())
		server.WaitForServerReady(10 * time.Second)
	})

	AfterEach(func() {
		if server != nil {
			Expect(server.StopServer()).To(Succeed())
		}
		reveal = false
	})

	startInstance := func(apiKey, query string) string {
		resp, err := server.Do(http.MethodPost, "/start"+query, apiKey, "")
		Expect(err).NotTo(HaveOccurred())
		body := helpers.ReadBody(resp)
		Expect(resp.StatusCode).To(Equal(http.StatusOK), body)
		Expect(body).To(MatchRegexp(`^[0-9a-f]{12}$`))
		return body
	}

	Context("full instance lifecycle", func() {
		It("starts, proxies, tails logs and stops an instance", func() {
			name := startInstance("mykey", "")
			Expect(server.Sequencers.Running()).To(Equal(1))

			By("proxying JSON-RPC to the sequencer")
			resp, err := server.Do(http.MethodPost, "/"+name, "mykey", chainIDRequest)
			Expect(err).NotTo(HaveOccurred())
			body := helpers.ReadBody(resp)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("X-Sequencer-Path")).To(Equal("/"))
			Expect(resp.Header.Get("X-Sequencer-Authorization")).To(BeEmpty())

			Expect(gjson.Valid(body)).To(BeTrue())
			Expect(gjson.Get(body, "jsonrpc").String()).To(Equal("2.0"))
			Expect(gjson.Get(body, "result").String()).To(Equal(helpers.ChainID))

			By("relaying JSON-RPC errors untouched")
			resp, err = server.Do(http.MethodPost, "/"+name, "mykey", `{"jsonrpc":"2.0","id":2,"method":"nope"}`)
			Expect(err).NotTo(HaveOccurred())
			body = helpers.ReadBody(resp)
			Expect(gjson.Get(body, "error.code").Int()).To(Equal(int64(-32601)))
			Expect(gjson.Get(body, "id").Int()).To(Equal(int64(2)))

			By("keeping the sub-path when forwarding")
			resp, err = server.Do(http.MethodGet, "/"+name+"/rpc/v0_7", "mykey", "")
			Expect(err).NotTo(HaveOccurred())
			helpers.ReadBody(resp)
			Expect(resp.Header.Get("X-Sequencer-Path")).To(Equal("/rpc/v0_7"))

			By("tailing the default number of log lines")
			resp, err = server.Do(http.MethodGet, "/"+name+"/logs", "mykey", "")
			Expect(err).NotTo(HaveOccurred())
			body = helpers.ReadBody(resp)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(strings.Split(strings.TrimSuffix(body, "\n"), "\n")).To(HaveLen(25))

			By("tailing every log line")
			resp, err = server.Do(http.MethodGet, "/"+name+"/logs?n=all", "mykey", "")
			Expect(err).NotTo(HaveOccurred())
			body = helpers.ReadBody(resp)
			Expect(strings.Split(strings.TrimSuffix(body, "\n"), "\n")).To(HaveLen(enginetest.BootLines))

			By("stopping the instance")
			resp, err = server.Do(http.MethodPost, "/"+name+"/stop", "mykey", "")
			Expect(err).NotTo(HaveOccurred())
			helpers.ReadBody(resp)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(server.Sequencers.Running()).To(BeZero())
			Expect(server.Engine.Count()).To(BeZero())

			By("forgetting the stopped instance")
			for _, path := range []string{"/" + name + "/logs", "/" + name + "/stop", "/" + name} {
				resp, err = server.Do(http.MethodGet, path, "mykey", "")
				Expect(err).NotTo(HaveOccurred())
				helpers.ReadBody(resp)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound), path)
			}
		})

		It("passes block options to the container", func() {
			startInstance("mykey", "?block_time=2000&no_mining=true")
			Expect(server.Engine.Count()).To(Equal(1))

			resp, err := server.Do(http.MethodPost, "/start?block_time=soon", "mykey", "")
			Expect(err).NotTo(HaveOccurred())
			helpers.ReadBody(resp)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(server.Engine.Count()).To(Equal(1))
		})

		It("rejects invalid tail values", func() {
			name := startInstance("mykey", "")
			resp, err := server.Do(http.MethodGet, "/"+name+"/logs?n=abc", "mykey", "")
			Expect(err).NotTo(HaveOccurred())
			helpers.ReadBody(resp)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("gives every instance its own port", func() {
			first := startInstance("mykey", "")
			second := startInstance("mykey", "")
			Expect(first).NotTo(Equal(second))

			ports := map[string]struct{}{}
			for _, name := range []string{first, second} {
				resp, err := server.Do(http.MethodGet, "/"+name, "mykey", "")
				Expect(err).NotTo(HaveOccurred())
				helpers.ReadBody(resp)
				ports[resp.Header.Get("X-Sequencer-Port")] = struct{}{}
			}
			Expect(ports).To(HaveLen(2))
		})
	})

	Context("authentication", func() {
		It("rejects missing and unknown API keys", func() {
			for _, key := range []string{"", "nosuchkey"} {
				resp, err := server.Do(http.MethodPost, "/start", key, "")
				Expect(err).NotTo(HaveOccurred())
				helpers.ReadBody(resp)
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Bearer"))
			}
			Expect(server.Engine.Count()).To(BeZero())
		})

		It("keeps health probes public", func() {
			for _, path := range []string{"/healthz", "/readyz"} {
				resp, err := server.Do(http.MethodGet, path, "", "")
				Expect(err).NotTo(HaveOccurred())
				helpers.ReadBody(resp)
				Expect(resp.StatusCode).To(Equal(http.StatusOK), path)
			}
		})
	})

	Context("tenant isolation", func() {
		It("hides another tenant's instance", func() {
			name := startInstance("mykey", "")

			for _, req := range []struct{ method, path string }{
				{http.MethodGet, "/" + name},
				{http.MethodGet, "/" + name + "/logs"},
				{http.MethodPost, "/" + name + "/stop"},
			} {
				resp, err := server.Do(req.method, req.path, "otherkey", "")
				Expect(err).NotTo(HaveOccurred())
				helpers.ReadBody(resp)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound), req.path)
			}
			Expect(server.Sequencers.Running()).To(Equal(1), "foreign stop leaves the instance running")
		})

		When("foreign instances are revealed", func() {
			BeforeEach(func() {
				reveal = true
			})

			It("answers forbidden instead of not found", func() {
				name := startInstance("mykey", "")
				resp, err := server.Do(http.MethodPost, "/"+name+"/stop", "otherkey", "")
				Expect(err).NotTo(HaveOccurred())
				helpers.ReadBody(resp)
				Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			})
		})
	})

	Context("instances that vanish", func() {
		It("drops an instance whose container disappeared", func() {
			name := startInstance("mykey", "")
			containers, err := server.Engine.ListManaged(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(containers).To(HaveLen(1))

			server.Sequencers.Remove(containers[0].ID, engine.ContainerSpec{})
			server.Engine.Forget(containers[0].ID)

			resp, err := server.Do(http.MethodPost, "/"+name, "mykey", chainIDRequest)
			Expect(err).NotTo(HaveOccurred())
			helpers.ReadBody(resp)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			report, err := server.App().Components().Manager.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Instances).To(BeZero(), fmt.Sprintf("%+v", report))
		})
	})
})
