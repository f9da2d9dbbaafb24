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

package metrics

// Estimator is a streaming min/max/mean/population-variance accumulator,
// updated one sample at a time via Welford's algorithm so it never needs
// to retain the underlying samples.
type Estimator struct {
	count int64
	mean  float64
	m2    float64
	min   float64
	max   float64
}

// Add folds value into the running estimate.
func (e *Estimator) Add(value float64) {
	e.count++
	if e.count == 1 {
		e.min, e.max = value, value
	} else {
		if value < e.min {
			e.min = value
		}
		if value > e.max {
			e.max = value
		}
	}
	delta := value - e.mean
	e.mean += delta / float64(e.count)
	e.m2 += delta * (value - e.mean)
}

func (e *Estimator) Count() int64 { return e.count }
func (e *Estimator) Min() float64 { return e.min }
func (e *Estimator) Max() float64 { return e.max }
func (e *Estimator) Mean() float64 { return e.mean }

// PopulationVariance returns zero until at least one sample has been
// added, rather than dividing by zero.
func (e *Estimator) PopulationVariance() float64 {
	if e.count == 0 {
		return 0
	}
	return e.m2 / float64(e.count)
}
