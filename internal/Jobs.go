/*
Copyright 2011-2026 Frederic Langlet
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
you may obtain a copy of the License at

                http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package internal

import "github.com/pkg/errors"

// ComputeJobsPerTask spreads 'jobs' units of work (e.g. BWT chunks, block
// queue slots) across 'nbTasks' goroutines as evenly as possible. The first
// jobs % nbTasks tasks get one extra unit.
func ComputeJobsPerTask(jobsPerTask []uint, jobs uint, nbTasks uint) ([]uint, error) {
	if nbTasks == 0 {
		return nil, errors.New("Invalid number of tasks: 0")
	}

	if uint(len(jobsPerTask)) != nbTasks {
		return nil, errors.New("Invalid jobsPerTask slice length")
	}

	q := jobs / nbTasks
	r := jobs % nbTasks

	for i := uint(0); i < nbTasks; i++ {
		jobsPerTask[i] = q

		if i < r {
			jobsPerTask[i]++
		}
	}

	return jobsPerTask, nil
}

// Log2 returns floor(log2(x)). Returns an error for x == 0.
func Log2(x uint32) (uint, error) {
	if x == 0 {
		return 0, errors.New("Cannot compute log2(0)")
	}

	return Log2NoCheck(x), nil
}

// Log2NoCheck returns floor(log2(x)) without validating that x is non-zero.
func Log2NoCheck(x uint32) uint {
	r := uint(0)

	for x > 1 {
		x >>= 1
		r++
	}

	return r
}
