package identity

import (
	"crypto/rand"
	"time"
)

var randRead = rand.Read

var timeNow = time.Now
