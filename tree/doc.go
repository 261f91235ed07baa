/*

Package tree implements groves: trees of nodes where every node is both an
ordered collection of children and a byte stream of its own.

A node's children form a sequence, addressed by index. Nodes can be added,
inserted, reordered, extracted, and destroyed. A node also carries a payload,
read and written through the usual Read, Write, Seek, and Truncate calls.
There is no distinction between files and directories. Every node has both
faces and either may be empty.

A whole tree serializes into one flat recursive record, so a grove of any
shape travels as a single blob. Loading is lazy. No payload bytes are copied
at load time. Instead every node becomes a window onto the opened resource,
and the resource stays open, shared by the whole tree, until the last node
needing it is destroyed or materialized. A node's payload is quietly copied
out into private storage (materialized) the moment an operation needs more
than its window can give, such as writing past the window end, or when the
node is extracted to live independently of its tree.

Trees are not safe for concurrent use. All the nodes loaded from one
resource share a single handle, so access to a tree, including reads, must
be serialized by the caller.

*/
package tree
