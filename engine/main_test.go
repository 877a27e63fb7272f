package engine

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/zhikook/chililog-server/natsclient"
)

var sharedTestClient *natsclient.TestClient

func TestMain(m *testing.M) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		os.Exit(m.Run())
	}

	testClient, err := natsclient.NewSharedTestClient(
		natsclient.WithTestTimeout(5*time.Second),
		natsclient.WithStartTimeout(30*time.Second),
	)
	if err != nil {
		log.Fatalf("Failed to create shared test client: %v", err)
	}
	sharedTestClient = testClient

	exitCode := m.Run()
	_ = testClient.Terminate()
	os.Exit(exitCode)
}

func getSharedClient(t *testing.T) *natsclient.Client {
	t.Helper()
	if sharedTestClient == nil {
		t.Skip("Set INTEGRATION_TESTS=1 to run integration tests")
	}
	return sharedTestClient.Client
}
