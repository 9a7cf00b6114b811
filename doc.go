// Package tnengine implements a distributed tensor-network evaluation
// engine: a client builds a TensorNetwork of named tensors and legs, a
// planner picks a contraction order under a chosen cost model, and a
// lazy graph executor drives a backend through the resulting operation
// DAG while a process-group layer tracks which ranks hold which
// intermediate tensors.
//
// # Architecture Overview
//
// The engine consists of several cooperating layers:
//
//   - space: named index spaces and their subspace ranges
//   - tensor: tensor identities, shapes, and isometry groups
//   - network: the tensor-network graph, its symbolic grammar, and
//     expansions/operators built from multiple networks
//   - composite: block-decomposed tensors and their distribution across
//     a process group
//   - metisgraph: a METIS-style multigraph view of a network with a
//     from-scratch k-way partitioner
//   - planner: contraction planning (dummy/heuro/greed/metis
//     algorithms) over a log2-volume cost model, with an in-memory and
//     disk-backed plan cache
//   - opdag: the operation DAG with RAW/WAR/WAW dependency tracking
//   - process: process groups, a communicator proxy, and nested
//     existence/execution domains
//   - backend: the node executor contract plus host and cuQuantum-stub
//     implementations
//   - executor: the lazy graph executor and network dispatch queue
//   - engine: the numerical server facade, client API, reconstructor,
//     and quantum-register convenience layer
//   - config: engine configuration loading and logger construction
//
// # Basic Usage
//
//	e, err := engine.New(engine.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	net := network.New("OUT", tensor.Shape{})
//	u := net.AppendTensor("U", tensor.Shape{4})
//	v := net.AppendTensor("V", tensor.Shape{4})
//	net.Connect(u, 0, v, 0, network.Undirected)
//
//	if err := engine.EvaluateSync(context.Background(), e, net); err != nil {
//	    log.Fatal(err)
//	}
//
// # Command-line tools
//
//   - tnctl: interactive/scriptable client over the engine's client API
//   - tnbench: benchmarks a directory of symbolic network specs
//   - tndump: inspects tensor dump files and multigraph packets
package tnengine
