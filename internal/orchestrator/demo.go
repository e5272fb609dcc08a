package orchestrator

// SamplePRD seeds demo projects.
const SamplePRD = `# PRD: Personal Portfolio Website

## 1. Objectives
Build a modern single-page portfolio that presents skills, selected projects and contact details to employers and clients.

## 2. Target Audience
Recruiters, hiring managers and prospective clients in the tech industry.

## 3. Feature List
-   Navigation bar linking to the Home, About, Projects and Contact sections.
-   Hero section with a headline, a short bio and a call-to-action button.
-   About section describing skills and experience in more depth.
-   Projects section with cards showing an image, title, description and link.
-   Contact section with links to professional profiles such as GitHub and LinkedIn.
-   Footer with copyright information.

## 4. Design & Style Guide
-   **Aesthetic:** Clean, professional and minimal.
-   **Color Palette:** Dark charcoal tones with one vivid accent color (electric blue or teal) for links, buttons and highlights.
-   **Typography:** A readable sans-serif such as Inter or Lato, with font weight used for hierarchy.
-   **Layout:** Responsive flexbox and grid layout for desktop and mobile.

## 5. Proposed File Structure
-   index.html
-   css/style.css
`
