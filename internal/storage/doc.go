// Package storage implements the bagfile backends, metadata IO and archiving.
//
// Registry is the storage.Factory used by the writer. It selects a plugin by
// storage id:
//
//   - "avro" (default) writes an Avro Object Container File. Topic declarations
//     and messages are stored as entries of one record type in append order.
//   - "parquet" writes one row per message and stores the declared topics in
//     the footer.
//
// Both backends create <uri>.<ext>, refuse to overwrite an existing file and
// report BagfileSize as the bytes written so far. Compression mode "file"
// uses the format's own codec when it has one and otherwise wraps the file in
// a zstd stream (<uri>.<ext>.zst). Mode "message" zstd-compresses each payload.
//
// YAMLMetadataIO writes metadata.yaml into the bag directory. Backends write
// the same document next to each bagfile on UpdateMetadata.
//
// An Archiver wraps the factory and metadata IO so that closed bagfiles and
// the final metadata file are uploaded to S3, GCS or Azure Blob Storage in the
// background:
//
//	archiver := storage.NewArchiver(ctx, uploader, storage.ArchiveConfig{Prefix: "bags"}, logger, metrics)
//	factory := archiver.WrapFactory(storage.NewRegistry())
//	metadataIO := archiver.WrapMetadataIO(storage.NewYAMLMetadataIO())
//	...
//	err := archiver.Close() // waits for pending uploads
package storage
