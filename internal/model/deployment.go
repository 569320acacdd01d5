package model

import (
	"time"

	"github.com/google/uuid"
)

type DeploymentStatus string

const (
	DeploymentScheduled DeploymentStatus = "scheduled"
	DeploymentStarted   DeploymentStatus = "started"
	DeploymentCompleted DeploymentStatus = "completed"
	DeploymentCancelled DeploymentStatus = "cancelled"
)

// Deployment is one bundle import request tracked by the server.
type Deployment struct {
	ID          uuid.UUID        `db:"id"`
	Name        string           `db:"name"`
	Requester   string           `db:"requester"`
	Status      DeploymentStatus `db:"status"`
	Error       string           `db:"error"`
	CreatedAt   time.Time        `db:"created_at"`
	CompletedAt *time.Time       `db:"completed_at"`
}

// DeploymentChange is one entry in a deployment watcher stream. The field
// names follow the wire format the GUI expects.
type DeploymentChange struct {
	DeploymentID uuid.UUID        `json:"DeploymentId"`
	Status       DeploymentStatus `json:"Status"`
	// Queue is the position in the import queue, only set while scheduled.
	Queue *int   `json:"Queue,omitempty"`
	Time  int64  `json:"Time"`
	Error string `json:"Error,omitempty"`
}
