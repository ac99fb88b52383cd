// Package config loads network and run definitions for the lockstep engine.
//
// A config file is YAML. It is checked against an embedded CUE schema
// before it is decoded, so structural mistakes are reported with file
// positions; cross references between groups are checked afterwards.
//
//	engine:
//	  chunk_count: 128
//	  quiescence: 250ms
//	  workers: 0          # 0 follows GOMAXPROCS
//	network:
//	  seed: 7
//	  groups:
//	    - {name: in, size: 4, rule: input, series: [0, 1]}
//	    - {name: hidden, size: 64, rule: weighted_sum, squash: tanh}
//	  connections:
//	    - {from: in, to: hidden, density: 0.5, weight: 1}
//	run:
//	  ticks: 100
//	  record: {db: run.db, groups: [hidden]}
package config
