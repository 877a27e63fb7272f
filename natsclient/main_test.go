package natsclient

import (
	"log"
	"os"
	"testing"
	"time"
)

var sharedTestClient *TestClient

// TestMain starts one NATS container for the package when INTEGRATION_TESTS is set
func TestMain(m *testing.M) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		log.Println("Running unit tests only. Set INTEGRATION_TESTS=1 to run integration tests.")
		os.Exit(m.Run())
	}

	testClient, err := NewSharedTestClient(
		WithTestTimeout(5*time.Second),
		WithStartTimeout(30*time.Second),
	)
	if err != nil {
		log.Fatalf("Failed to create shared test client: %v", err)
	}
	sharedTestClient = testClient

	exitCode := m.Run()
	_ = testClient.Terminate()
	os.Exit(exitCode)
}

func getSharedClient(t *testing.T) *Client {
	t.Helper()
	if sharedTestClient == nil {
		t.Skip("Set INTEGRATION_TESTS=1 to run integration tests")
	}
	return sharedTestClient.Client
}
