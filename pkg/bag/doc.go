// Package bag defines the core recording types shared by writers, storage
// backends and converters.
//
// A bag is a directory of one or more bagfiles plus a metadata summary.
// Messages are appended to the active bagfile in call order; when the active
// bagfile is split a new one is opened with the next suffix index.
//
// # Messages
//
// Message carries a topic name, an immutable serialized payload and two
// nanosecond timestamps supplied by the caller:
//
//	msg := &bag.Message{
//	    TopicName:     "/imu",
//	    Data:          payload,
//	    RecvTimestamp: time.Now().UnixNano(),
//	}
//
// # Metadata
//
// BagMetadata summarizes a bag: the ordered list of bagfiles, per-file
// statistics and aggregate counts and time bounds. Aggregates are always
// derived from Files:
//
//	MessageCount = sum of Files[i].MessageCount
//	StartingTime = min of Files[i].StartingTime over non-empty files
//	Duration     = max(start+duration) - min(start) over non-empty files
//
// # File Naming
//
// Bagfiles live under the bag URI and are named after its base name with a
// zero-based index suffix:
//
//	BagfileURI("/data/run1", 0) // "/data/run1/run1_0"
//	BagfileURI("/data/run1", 1) // "/data/run1/run1_1"
package bag
