// Package fence implements the reversible frontmatter-fencing transform.
//
// Rich-text surfaces cannot display a raw YAML frontmatter block without
// mangling it, so before content is pushed to a surface the leading
// frontmatter (if any) is wrapped in a ```yaml code fence, and when content
// comes back from a surface the fence is unwrapped again. Decode(Encode(x))
// is the identity for well-formed input, and both directions degrade to a
// verbatim pass-through rather than ever losing text.
package fence
