/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package simevents

import (
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Severity mirrors the Kubernetes Normal/Warning event type split.
type Severity string

const (
	SeverityInfo    Severity = "Info"
	SeverityWarning Severity = "Warning"
)

// Occurrence is a single diagnostic record emitted by a component about a
// node or pod. Simulated objects carry no UID, so DedupeValues is hashed
// structurally with hashstructure rather than built from object identity.
type Occurrence struct {
	InvolvedObject string
	Severity       Severity
	Reason         string
	Message        string
	DedupeValues   []interface{}
	Limiter        *rate.Limiter
}

// Recorder publishes occurrences, deduplicating repeats and applying each
// occurrence's own rate limiter. There is no Kubernetes object store to
// publish against, so the sink is the structured log.
type Recorder interface {
	Publish(o Occurrence)
}

type recorder struct {
	logger *zap.SugaredLogger
	seen   map[uint64]time.Time
	ttl    time.Duration
}

// NewRecorder returns a Recorder that logs through logger, suppressing
// duplicate occurrences (by structural hash of DedupeValues) within ttl.
func NewRecorder(logger *zap.SugaredLogger, ttl time.Duration) Recorder {
	return &recorder{logger: logger, seen: map[uint64]time.Time{}, ttl: ttl}
}

func (r *recorder) Publish(o Occurrence) {
	if o.Limiter != nil && !o.Limiter.Allow() {
		return
	}
	if len(o.DedupeValues) > 0 {
		h, err := hashstructure.Hash(o.DedupeValues, hashstructure.FormatV2, nil)
		if err == nil {
			if last, ok := r.seen[h]; ok && time.Since(last) < r.ttl {
				return
			}
			r.seen[h] = time.Now()
		}
	}
	log := r.logger.With("object", o.InvolvedObject, "reason", o.Reason)
	if o.Severity == SeverityWarning {
		log.Warn(o.Message)
	} else {
		log.Info(o.Message)
	}
}

// PodNominationLimiter bounds how often pod-scheduled occurrences reach
// the log; a busy cycle can place hundreds of pods in one pass.
var PodNominationLimiter = rate.NewLimiter(rate.Limit(5), 10)

func PodScheduled(podName, nodeName string) Occurrence {
	return Occurrence{
		InvolvedObject: podName,
		Severity:       SeverityInfo,
		Reason:         "Scheduled",
		Message:        "pod bound to " + nodeName,
		DedupeValues:   []interface{}{podName, nodeName},
		Limiter:        PodNominationLimiter,
	}
}

func PodFailedToSchedule(podName, reason string) Occurrence {
	return Occurrence{
		InvolvedObject: podName,
		Severity:       SeverityWarning,
		Reason:         "FailedScheduling",
		Message:        "failed to schedule pod: " + reason,
		DedupeValues:   []interface{}{podName, reason},
	}
}

func NodeCreated(nodeName string) Occurrence {
	return Occurrence{
		InvolvedObject: nodeName,
		Severity:       SeverityInfo,
		Reason:         "Created",
		Message:        "node added to cluster",
		DedupeValues:   []interface{}{nodeName},
	}
}

func NodeRemoved(nodeName, reason string) Occurrence {
	return Occurrence{
		InvolvedObject: nodeName,
		Severity:       SeverityInfo,
		Reason:         "Removed",
		Message:        reason,
		DedupeValues:   []interface{}{nodeName, reason},
	}
}

func ScaleDownSkipped(nodeName, reason string) Occurrence {
	return Occurrence{
		InvolvedObject: nodeName,
		Severity:       SeverityInfo,
		Reason:         "ScaleDownSkipped",
		Message:        reason,
		DedupeValues:   []interface{}{nodeName, reason},
	}
}
