package integration

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	ctx    context.Context
	cancel context.CancelFunc
)

func TestSeqciProxyIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Sequencer Proxy Integration Test Suite")
}

var _ = BeforeSuite(func() {
	ctx, cancel = context.WithCancel(context.Background())
})

var _ = AfterSuite(func() {
	if cancel != nil {
		cancel()
	}
})
