package lockhint_test

import (
	"log"
	"os"
	"time"

	"github.com/MatthiasKunnen/deadbolt/pkg/lockhint"
)

func ExampleSession() {
	session, err := lockhint.NewSession(os.Getenv("XDG_SESSION_ID"))
	if err != nil {
		log.Fatalf("Failed to connect to logind: %v", err)
	}

	unlockSignal := make(chan struct{}, 1)
	err = session.AddUnlockSignal(unlockSignal)
	if err != nil {
		log.Fatalf("Failed to add unlock signal: %v", err)
	}

	if err := session.SetLocked(true); err != nil {
		log.Printf("Failed to set locked hint: %v", err)
	}

	select {
	case <-unlockSignal:
		log.Println("Unlock requested, tear down the lock")
	case <-time.After(10 * time.Second):
	}

	if err := session.SetLocked(false); err != nil {
		log.Printf("Failed to clear locked hint: %v", err)
	}

	if err := session.Close(); err != nil {
		log.Printf("Failed to close logind connection: %v", err)
	}
}
